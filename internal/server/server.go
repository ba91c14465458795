// Package server exposes an offline scope over HTTP.
//
// Requests under /_neonfeed/ are control endpoints; every other request is
// answered by the scope, which proxies to the origin through the offline
// worker.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/matzehuels/neonfeed/pkg/bucket"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
	"github.com/matzehuels/neonfeed/pkg/offline"
)

const shutdownTimeout = 10 * time.Second

// Server serves a scope and its control endpoints.
type Server struct {
	scope  *offline.Scope
	store  bucket.Store
	logger *log.Logger
	router chi.Router
}

// New creates a server for scope, whose workers store into store.
func New(scope *offline.Scope, store bucket.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{scope: scope, store: store, logger: logger}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/_neonfeed", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/worker", s.handleWorker)
		r.Post("/sync", s.handleSync)
	})
	r.Handle("/*", s.scope)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("serving", "addr", addr, "origin", s.scope.Origin())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if w := s.scope.Controller(); w != nil {
		w.Wait()
	}
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
	Online bool   `json:"online"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Online: s.scope.Online()})
}

type workerResponse struct {
	offline.Info
	Buckets []string `json:"buckets"`
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	worker := s.scope.Controller()
	if worker == nil {
		err := errs.New(errs.ErrCodeNotFound, "no worker controls %s", s.scope.Origin())
		writeJSON(w, http.StatusNotFound, errs.NewEnvelope(err, errs.UserMessage(err)))
		return
	}

	names, err := s.store.Names(r.Context())
	if err != nil {
		s.logger.Error("list buckets", "err", err)
		err = errs.Wrap(errs.ErrCodeInternal, err, "list buckets")
		writeJSON(w, http.StatusInternalServerError, errs.NewEnvelope(err, "could not list buckets"))
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, workerResponse{Info: worker.Info(), Buckets: names})
}

type syncResponse struct {
	Tag string `json:"tag"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = offline.SyncTag
	}
	worker := s.scope.Controller()
	if worker == nil {
		err := errs.New(errs.ErrCodeNotFound, "no worker controls %s", s.scope.Origin())
		writeJSON(w, http.StatusServiceUnavailable, errs.NewEnvelope(err, errs.UserMessage(err)))
		return
	}
	if err := worker.Sync(r.Context(), tag); err != nil {
		writeJSON(w, http.StatusInternalServerError, errs.NewEnvelope(err, "sync failed"))
		return
	}
	writeJSON(w, http.StatusAccepted, syncResponse{Tag: tag})
}

// requestID fills in X-Request-Id with a UUID so middleware.RequestID
// adopts it and clients can correlate logs.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
