package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mjhen/medstock/server/internal/history"
	"github.com/mjhen/medstock/server/internal/httpx"
	"github.com/mjhen/medstock/server/internal/importer"
	"github.com/mjhen/medstock/server/internal/sheet"
)

// multipart overhead allowed on top of the file itself
const uploadSlackBytes = 1 << 20

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type importView struct {
	importer.Session
	SelectedTargets []string           `json:"selectedTargets"`
	Progress        *importer.Progress `json:"progress,omitempty"`
	Report          *importer.Report   `json:"report,omitempty"`
}

func (a *App) viewOf(s importer.Session) importView {
	v := importView{Session: s, SelectedTargets: s.SelectedTargets()}
	if p, report, err := a.sessions.Progress(s.ID); err == nil {
		if p.Phase != "" {
			v.Progress = &p
		}
		v.Report = report
	}
	return v
}

func importID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "importID"))
}

// handleCreateImport accepts a multipart upload in the "file" part, parses it
// and opens an import session with an automatic mapping proposal.
func (a *App) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.MaxUploadBytes
	if limit <= 0 || limit > sheet.MaxFileSize {
		limit = sheet.MaxFileSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadSlackBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeServiceError(w, r, err)
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if err := sheet.ValidateFile(header.Filename, header.Header.Get("Content-Type"), header.Size); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if header.Size > limit {
		a.writeServiceError(w, r, sheet.ErrFileTooLarge)
		return
	}

	sp, err := sheet.Parse(r.Context(), file)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	fields, err := a.catalog.ListFields(r.Context(), false)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	session, err := importer.NewSession(header.Filename, sp, fields, a.cfg.MaxImportRows)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.sessions.Put(session)

	a.logger.Info("import session opened",
		zap.String("import_id", session.ID),
		zap.String("file", session.FileName),
		zap.Int("columns", len(session.Columns)),
		zap.Int("rows", session.RowCount),
	)
	httpx.WriteJSON(w, http.StatusCreated, a.viewOf(*session))
}

func (a *App) handleGetImport(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessions.Get(importID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a.viewOf(session))
}

func (a *App) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Delete(importID(r)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportEvents applies a batch of mapping edits. Either every event is
// applied or none is.
func (a *App) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Events []importer.Event `json:"events"`
	}
	var req request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, r, err)
		return
	}
	session, err := a.sessions.Update(importID(r), func(s *importer.Session) error {
		return s.Apply(req.Events...)
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a.viewOf(session))
}

// handleRefreshImport reloads the field list and recomputes the automatic
// mapping, discarding manual edits.
func (a *App) handleRefreshImport(w http.ResponseWriter, r *http.Request) {
	fields, err := a.catalog.ListFields(r.Context(), false)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	session, err := a.sessions.Update(importID(r), func(s *importer.Session) error {
		s.Refresh(fields)
		return nil
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a.viewOf(session))
}

// handleCommitImport runs the import synchronously. Progress can be followed
// over the session websocket while the request is in flight.
func (a *App) handleCommitImport(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Mode string `json:"mode"`
	}
	var req request
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			a.writeDecodeError(w, r, err)
			return
		}
	}
	mode, err := importer.ParseMode(req.Mode)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	id := importID(r)
	session, err := a.sessions.Begin(id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	report, err := a.executor.Execute(r.Context(), session.Plan(mode), a.sessions.Observer(id))
	a.sessions.Finish(id, report, err)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.recordHistory(r.Context(), session.FileName, report)

	httpx.WriteJSON(w, http.StatusOK, report)
}

// recordHistory appends the import to the history log. A failure here does
// not undo the import, so it is only logged.
func (a *App) recordHistory(ctx context.Context, fileName string, report *importer.Report) {
	_, err := a.history.RecordImport(ctx, history.ImportSummary{
		FileName:      fileName,
		Mode:          string(report.Mode),
		SuccessCount:  report.SuccessCount,
		ErrorCount:    report.ErrorCount,
		NotFoundCount: report.NotFoundCount,
		SkippedCount:  report.SkippedCount,
	}, map[string]any{
		"createdFields": report.CreatedFields,
		"fieldErrors":   report.FieldErrors,
	})
	if err != nil && !errors.Is(err, history.ErrNothingImported) {
		a.logger.Warn("record import history", zap.String("file", fileName), zap.Error(err))
	}
}

// handleImportWS streams progress snapshots for one session until the run
// finishes, the session disappears or the client goes away.
func (a *App) handleImportWS(w http.ResponseWriter, r *http.Request) {
	id := importID(r)
	if _, err := a.sessions.Get(id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := a.streamProgress(r.Context(), conn, id); err != nil {
		a.logger.Debug("import progress stream ended", zap.String("import_id", id), zap.Error(err))
	}
}

func (a *App) streamProgress(ctx context.Context, conn *websocket.Conn, id string) error {
	if err := conn.WriteJSON(map[string]any{"type": "connected", "importId": id}); err != nil {
		return fmt.Errorf("write websocket connected payload: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(a.pollPeriod)
	defer ticker.Stop()

	var last importer.Progress
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			p, report, err := a.sessions.Progress(id)
			if err != nil {
				_ = conn.WriteJSON(map[string]any{"type": "error", "error": err.Error()})
				return err
			}
			if report != nil {
				return conn.WriteJSON(map[string]any{"type": "done", "progress": p, "report": report})
			}
			if p.Phase == importer.PhaseFailed {
				return conn.WriteJSON(map[string]any{"type": "failed", "progress": p})
			}
			message := map[string]any{"type": "progress", "progress": p}
			if p == last {
				message = map[string]any{"type": "heartbeat"}
			}
			if err := conn.WriteJSON(message); err != nil {
				return fmt.Errorf("write websocket payload: %w", err)
			}
			last = p
		}
	}
}
