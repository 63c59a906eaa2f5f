package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mjhen/medstock/server/internal/auth"
	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/config"
	"github.com/mjhen/medstock/server/internal/history"
	"github.com/mjhen/medstock/server/internal/httpx"
	"github.com/mjhen/medstock/server/internal/importer"
	"github.com/mjhen/medstock/server/internal/logging"
	"github.com/mjhen/medstock/server/internal/middleware"
)

const (
	sweepInterval      = time.Minute
	progressPollPeriod = 500 * time.Millisecond
)

type App struct {
	cfg      config.Config
	db       *sql.DB
	logger   *zap.Logger
	catalog  *catalog.Service
	history  *history.Recorder
	sessions *importer.SessionStore
	executor *importer.Executor
	verifier *auth.Verifier

	pollPeriod time.Duration
}

func New(cfg config.Config, db *sql.DB, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	catalogService := catalog.NewService(db)

	a := &App{
		cfg:        cfg,
		db:         db,
		logger:     logger,
		catalog:    catalogService,
		history:    history.NewRecorder(db),
		sessions:   importer.NewSessionStore(cfg.SessionTTL),
		executor:   importer.NewExecutor(catalogService, logger.Named("importer")),
		pollPeriod: progressPollPeriod,
	}
	if cfg.APIKeyHash != "" {
		verifier, err := auth.NewVerifier(cfg.APIKeyHash)
		if err != nil {
			return nil, fmt.Errorf("parse api key hash: %w", err)
		}
		a.verifier = verifier
	}
	return a, nil
}

func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(a.logger))
	r.Use(middleware.Recoverer(a.logger))
	r.Use(middleware.NoSniff)
	r.Use(middleware.RequireTLS(a.cfg.RequireTLS))

	r.Get("/healthz", a.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if a.verifier != nil {
			r.Use(middleware.RequireAPIKey(a.verifier))
		}

		r.Route("/fields", func(r chi.Router) {
			r.Get("/", a.handleListFields)
			r.Post("/", a.handleCreateField)
			r.Patch("/{fieldID}", a.handleRenameField)
			r.Delete("/{fieldID}", a.handleDeleteField)
			r.Post("/{fieldID}/toggle-active", a.handleToggleFieldActive)
			r.Post("/{fieldID}/toggle-classified", a.handleToggleFieldClassified)
		})

		r.Get("/products", a.handleListProducts)
		r.Get("/products/{productID}", a.handleGetProduct)

		r.Route("/imports", func(r chi.Router) {
			r.Post("/", a.handleCreateImport)
			r.Route("/{importID}", func(r chi.Router) {
				r.Get("/", a.handleGetImport)
				r.Delete("/", a.handleDeleteImport)
				r.Post("/events", a.handleImportEvents)
				r.Post("/refresh", a.handleRefreshImport)
				r.Post("/commit", a.handleCommitImport)
				r.Get("/ws", a.handleImportWS)
			})
		})

		r.Get("/history", a.handleListHistory)
		r.Get("/history/verify", a.handleVerifyHistory)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Run serves HTTP and sweeps idle import sessions until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.sessions.Run(gctx, sweepInterval)
	})
	return g.Wait()
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.db.PingContext(ctx); err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "importSessions": a.sessions.Len()})
}
