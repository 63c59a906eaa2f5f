package app

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/httpx"
	"github.com/mjhen/medstock/server/internal/importer"
	"github.com/mjhen/medstock/server/internal/sheet"
)

var errInvalidLimit = errors.New("limit must be a non-negative integer")

// writeServiceError maps domain errors onto HTTP statuses. Anything unknown is
// logged and reported as 500.
func (a *App) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		dup      *importer.DuplicateFieldNameError
		parseErr *sheet.ParseError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &dup):
		httpx.WriteErrorDetails(w, http.StatusUnprocessableEntity, err.Error(), map[string]any{
			"names":   dup.Names,
			"columns": dup.Columns,
		})
	case errors.As(err, &parseErr), errors.Is(err, sheet.ErrEmptyFile):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &tooLarge), errors.Is(err, sheet.ErrFileTooLarge):
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, sheet.ErrFileTooLarge.Error())
	case errors.Is(err, sheet.ErrUnsupportedFileType):
		httpx.WriteError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, importer.ErrTooManyRows),
		errors.Is(err, importer.ErrMissingRequiredField),
		errors.Is(err, importer.ErrMissingProductCode):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, importer.ErrSessionNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrDuplicateName), errors.Is(err, importer.ErrImportRunning):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrInvalidInput),
		errors.Is(err, importer.ErrInvalidEvent),
		errors.Is(err, importer.ErrInvalidMode),
		errors.Is(err, httpx.ErrTrailingValues):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeDecodeError reports a malformed JSON request body.
func (a *App) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteError(w, http.StatusBadRequest, err.Error())
}
