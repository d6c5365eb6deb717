package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"txledger/internal/app"
	"txledger/internal/config"
	"txledger/internal/logger"
	"txledger/internal/query"
	"txledger/internal/reconcile"
	"txledger/internal/txstore"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

const shutdownTimeout = 5 * time.Second

// Service is the part of the application the HTTP API exposes.
type Service interface {
	Submit(ctx context.Context, req app.SubmitRequest) (txstore.Record, error)
	Query(filter query.Filter, page, limit int) query.Page
	Summary(filter query.Filter) query.Summary
	Get(identifier string) (txstore.Record, bool)
	Sync(ctx context.Context) (reconcile.Report, error)
	Clear(ctx context.Context) error
	Principal() string
}

// Server serves the local read/submit API used by display code.
type Server struct {
	cfg config.APIConfig
	svc Service
	log logger.Logger
}

// NewServer creates an API server for svc.
func NewServer(cfg config.APIConfig, svc Service, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Server{cfg: cfg, svc: svc, log: log}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/transactions", s.listTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", s.submitTransaction).Methods(http.MethodPost)
	v1.HandleFunc("/transactions", s.clearTransactions).Methods(http.MethodDelete)
	v1.HandleFunc("/transactions/summary", s.summary).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{id}", s.getTransaction).Methods(http.MethodGet)
	v1.HandleFunc("/sync", s.sync).Methods(http.MethodPost)
	v1.HandleFunc("/status", s.status).Methods(http.MethodGet)
	return r
}

// Handler returns the router wrapped in CORS handling when origins are configured.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	if len(s.cfg.CORSOrigins) == 0 {
		return h
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", HeaderRequestID},
	})
	s.log.Debug("CORS enabled", "origins", s.cfg.CORSOrigins)
	return c.Handler(h)
}

// ListenAndServe serves until ctx is done, then shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API listening", "address", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("API stopped")
	return nil
}

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, req)
		s.log.Debug("API request", "request_id", id, "method", req.Method, "path", req.URL.Path,
			"status", rec.status, "elapsed", time.Since(start).String())
	})
}
