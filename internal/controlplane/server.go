package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onejob/onejob/internal/models"
)

// Version is reported by /health. Set with -ldflags at build time.
var Version = "dev"

// IntegrityStatus exposes the latest background rank check.
type IntegrityStatus interface {
	Last() (models.DensityReport, bool)
}

// Server provides the HTTP API for onejob.
type Server struct {
	service   *Service
	addr      string
	server    *http.Server
	integrity IntegrityStatus
	log       *log.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		service: service,
		addr:    addr,
		log:     logger.WithPrefix("http"),
	}
}

// SetIntegrity wires the background monitor's status into /health.
func (s *Server) SetIntegrity(st IntegrityStatus) {
	s.integrity = st
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /tasks", s.createTask)
	mux.HandleFunc("GET /tasks", s.listTasks)
	mux.HandleFunc("GET /tasks/{id}", s.getTask)
	mux.HandleFunc("PATCH /tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /tasks/{id}/complete", s.transition(s.service.CompleteTask))
	mux.HandleFunc("POST /tasks/{id}/defer", s.transition(s.service.DeferTask))
	mux.HandleFunc("POST /tasks/{id}/reactivate", s.transition(s.service.ReactivateTask))
	mux.HandleFunc("GET /tasks/{id}/audit", s.taskAudit)

	mux.HandleFunc("POST /tasks/{id}/substacks", s.createSubStack)
	mux.HandleFunc("GET /tasks/{id}/substacks", s.listSubStacks)
	mux.HandleFunc("POST /substacks/{id}/items", s.addItem)
	mux.HandleFunc("POST /items/{id}/toggle", s.toggleItem)

	mux.HandleFunc("GET /ranks/check", s.checkRanks)
	mux.HandleFunc("POST /ranks/repair", s.repairRanks)

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting onejob daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= 500 {
		s.log.Warn("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: errorKind(err)})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", ErrInvalidInput, err)
	}
	return nil
}

// --- Health ---

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK        bool                  `json:"ok"`
	DB        string                `json:"db"`
	Driver    string                `json:"driver"`
	Version   string                `json:"version"`
	Time      string                `json:"time"`
	Integrity *models.DensityReport `json:"integrity,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Driver:  s.service.Store().Driver(),
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.integrity != nil {
		if last, ok := s.integrity.Last(); ok {
			resp.Integrity = &last
		}
	}

	status := http.StatusOK
	if err := s.service.Health(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Task Handlers ---

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.service.CreateTask(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// TaskLists is the body of GET /tasks without a state filter.
type TaskLists struct {
	Active []models.Task `json:"active"`
	Done   []models.Task `json:"done"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch state := r.URL.Query().Get("state"); state {
	case string(models.StateActive):
		tasks, err := s.service.ListActive(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	case string(models.StateDone):
		tasks, err := s.service.ListDone(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	case "":
		active, err := s.service.ListActive(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		done, err := s.service.ListDone(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, TaskLists{Active: active, Done: done})
	default:
		s.writeError(w, fmt.Errorf("%w: unknown state %q", ErrInvalidInput, state))
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.service.UpdateTask(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transition adapts a single-task rank operation to a handler.
func (s *Server) transition(op func(ctx context.Context, id string) (*models.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := op(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

func (s *Server) taskAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidInput))
			return
		}
		limit = n
	}
	entries, err := s.service.ListAudit(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- SubStack Handlers ---

type createSubStackRequest struct {
	Name string `json:"name"`
}

func (s *Server) createSubStack(w http.ResponseWriter, r *http.Request) {
	var req createSubStackRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	ss, err := s.service.CreateSubStack(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ss)
}

func (s *Server) listSubStacks(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.service.ListSubStacks(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stacks)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	item, err := s.service.AddItem(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) toggleItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.ToggleItem(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// --- Rank Integrity Handlers ---

func (s *Server) checkRanks(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.CheckRanks(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) repairRanks(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.RepairRanks(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
