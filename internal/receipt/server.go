package receipt

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// Server handles HTTP requests for receipts
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
	limiter   *rate.Limiter
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// SetUploadLimit limits OCR requests to perSecond with the given burst. A
// perSecond <= 0 removes the limit.
func (s *Server) SetUploadLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Tracker"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// rateLimited rejects requests beyond the upload limit
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if l := s.limiter; l != nil && !l.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many uploads, please slow down")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Receipts
	s.mux.HandleFunc("POST /api/receipts/scan", s.requireAuth(s.rateLimited(s.handleScanReceipt)))
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("PUT /api/receipts/{id}", s.requireAuth(s.handleUpdateReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleCreateReceipt))

	// Categories
	s.mux.HandleFunc("POST /api/categorize", s.requireAuth(s.handleCategorize))
	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleListCategories))

	// Analytics
	s.mux.HandleFunc("GET /api/analytics/monthly", s.requireAuth(s.handleMonthlyTrends))
	s.mux.HandleFunc("GET /api/analytics/merchants", s.requireAuth(s.handleTopMerchants))
	s.mux.HandleFunc("GET /api/analytics/categories", s.requireAuth(s.handleCategoryBreakdown))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
