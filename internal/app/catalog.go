package app

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/httpx"
)

// ===== Fields =====

func (a *App) handleListFields(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("includeInactive"))
	fields, err := a.catalog.ListFields(r.Context(), includeInactive)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (a *App) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var req catalog.CreateFieldInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, r, err)
		return
	}
	field, err := a.catalog.CreateField(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, field)
}

func (a *App) handleRenameField(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Name string `json:"name"`
	}
	var req request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, r, err)
		return
	}
	field, err := a.catalog.RenameField(r.Context(), fieldID(r), req.Name)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, field)
}

func (a *App) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.DeleteField(r.Context(), fieldID(r)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleToggleFieldActive(w http.ResponseWriter, r *http.Request) {
	field, err := a.catalog.ToggleFieldActive(r.Context(), fieldID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, field)
}

func (a *App) handleToggleFieldClassified(w http.ResponseWriter, r *http.Request) {
	field, err := a.catalog.ToggleFieldClassified(r.Context(), fieldID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, field)
}

func fieldID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "fieldID"))
}

// ===== Products =====

func (a *App) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	products, err := a.catalog.ListProducts(r.Context(), catalog.ProductQuery{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *App) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.catalog.GetProduct(r.Context(), strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, product)
}

// ===== History =====

func (a *App) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.history.List(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *App) handleVerifyHistory(w http.ResponseWriter, r *http.Request) {
	result, err := a.history.Verify(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errInvalidLimit
	}
	return v, nil
}
