package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the ops API server
type Server struct {
	responder
	intentHandler  *IntentHandler
	navHandler     *NAVHandler
	weightsHandler *WeightsHandler
	server         *http.Server
}

// NewServer creates a new API server
func NewServer(port int, intentHandler *IntentHandler, navHandler *NAVHandler, weightsHandler *WeightsHandler, logger *zap.Logger) *Server {
	s := &Server{
		responder:      responder{logger: logger},
		intentHandler:  intentHandler,
		navHandler:     navHandler,
		weightsHandler: weightsHandler,
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			ReadTimeout: 15 * time.Second,
			// weight updates block until the receipt arrives
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.server.Handler = s.setupRoutes()
	return s
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.healthCheck).Methods("GET")
	api.HandleFunc("/checkpoint", s.intentHandler.GetCheckpoint).Methods("GET")

	api.HandleFunc("/intents", s.intentHandler.ListIntents).Methods("GET")
	api.HandleFunc("/intents/{intent_id}", s.intentHandler.GetIntent).Methods("GET")
	api.HandleFunc("/audit/{tx_hash}", s.intentHandler.GetAudit).Methods("GET")

	api.HandleFunc("/nav/snapshots", s.navHandler.ListSnapshots).Methods("GET")
	api.HandleFunc("/recommendations/latest", s.weightsHandler.GetLatestRecommendation).Methods("GET")

	// Admin endpoints are expected behind the deployment gateway
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/weights", s.weightsHandler.UpdateWeight).Methods("POST")
	admin.HandleFunc("/nav/recompute", s.navHandler.Recompute).Methods("POST")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
