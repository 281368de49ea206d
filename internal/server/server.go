package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/zombor/hofbuch/internal/classify"
	"github.com/zombor/hofbuch/internal/receipt"
	"github.com/zombor/hofbuch/internal/report"
)

// Server handles HTTP requests for receipts, classification and reports
type Server struct {
	receipts  *receipt.Service
	engine    *classify.Engine
	reports   *report.Service
	basicAuth BasicAuth
	router    chi.Router
	http      *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with all routes registered
func NewServer(receipts *receipt.Service, engine *classify.Engine, reports *report.Service, basicAuth BasicAuth) *Server {
	s := &Server{
		receipts:  receipts,
		engine:    engine,
		reports:   reports,
		basicAuth: basicAuth,
		router:    chi.NewRouter(),
	}
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Hofbuch"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors adds CORS headers to every response and answers preflight requests
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/receipts", s.handleListReceipts)
			r.Post("/receipts", s.handleCreateReceipt)
			r.Post("/receipts/extract", s.handleExtractReceipt)
			r.Post("/receipts/import/kalkuel", s.handleImportKalkuel)
			r.Get("/receipts/{id}", s.handleGetReceipt)
			r.Put("/receipts/{id}", s.handleUpdateReceipt)
			r.Delete("/receipts/{id}", s.handleDeleteReceipt)
			r.Get("/receipts/{id}/files/{index}", s.handleGetReceiptFile)
			r.Post("/receipts/{id}/products", s.handleAddProduct)

			r.Get("/products", s.handleListProducts)
			r.Get("/products/orphaned", s.handleFindOrphans)
			r.Delete("/products/orphaned", s.handleRemoveOrphans)
			r.Put("/products/{id}", s.handleUpdateProduct)
			r.Delete("/products/{id}", s.handleDeleteProduct)

			r.Get("/classes", s.handleListClasses)
			r.Post("/classes", s.handleCreateClass)
			r.Put("/classes/{id}", s.handleRenameClass)
			r.Delete("/classes/{id}", s.handleDeleteClass)
			r.Get("/classes/{id}/rules", s.handleListRules)
			r.Post("/classes/{id}/rules", s.handleCreateRule)
			r.Get("/classes/{id}/preview", s.handlePreviewBatch)
			r.Post("/classes/{id}/assign", s.handleBatchAssign)
			r.Post("/classes/{id}/reset", s.handleResetClass)

			r.Put("/rules/{id}", s.handleUpdateRule)
			r.Delete("/rules/{id}", s.handleDeleteRule)

			r.Get("/classification/unclassified", s.handleUnclassified)
			r.Get("/classification/status", s.handleStatus)
			r.Post("/classification/assign", s.handleAssign)
			r.Post("/classification/test", s.handleTestPattern)
			r.Post("/classification/reset", s.handleResetAll)

			r.Get("/reports/overview", s.handleOverview)
			r.Get("/reports/kaese", s.handleKaese)
			r.Get("/reports/biokontrolle", s.handleBiokontrolle)
			r.Get("/reports/export", s.handleExport)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start serves HTTP on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.http.Addr = addr
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for running requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
