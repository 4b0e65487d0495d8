package api

import "github.com/gorilla/mux"

func registerBaseRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET", "OPTIONS")
	r.HandleFunc("/scheduler/status", s.handleSchedulerStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/groups/{id}/articles", s.handleListArticles).Methods("GET", "OPTIONS")
}

// Mutating endpoints sit behind the admin JWT middleware.
func registerAdminRoutes(r *mux.Router, s *Server) {
	auth := newAdminAuthFromEnv()

	sub := r.NewRoute().Subrouter()
	sub.Use(auth.Middleware)
	sub.HandleFunc("/scheduler/trigger", s.handleSchedulerTrigger).Methods("POST", "OPTIONS")
	sub.HandleFunc("/analyze/{equity_id}", s.handleAnalyze).Methods("POST", "OPTIONS")
	sub.HandleFunc("/groups/{id}/articles", s.handleCreateArticle).Methods("POST", "OPTIONS")
}
