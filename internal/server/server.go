package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/callboard/taskgraph/embed/webui"
	"github.com/callboard/taskgraph/internal/db"
)

// Server is a read-only HTTP API over the task graph, plus the bundled
// web viewer. All mutations go through the MCP server or the CLI.
type Server struct {
	db     *db.DB
	server *http.Server
}

func NewServer(database *db.DB) *Server {
	return &Server{db: database}
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	return s.server.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/ready", s.handleReady)
	mux.HandleFunc("/api/graph", s.handleGraph)

	// Static files
	mux.Handle("/", http.FileServer(http.FS(webui.Assets)))

	return mux
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.db.ListProjects(r.Context())
	s.respond(w, projects, err)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ListTasks(r.Context(), nil, nil)
	s.respond(w, tasks, err)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ReadyTasks(r.Context())
	s.respond(w, tasks, err)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	graphJSON, err := s.db.GetGraphJSON(r.Context())
	s.respond(w, graphJSON, err)
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if str, ok := data.(string); ok {
		w.Write([]byte(str))
	} else {
		json.NewEncoder(w).Encode(data)
	}
}
