// Package httpapi provides the HTTP and websocket API for devroom.
// It delegates room and assistant logic to the relay and hub.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/devroom-ai/devroom/assistant"
	"github.com/devroom-ai/devroom/gateway"
	"github.com/devroom-ai/devroom/gitexport"
	"github.com/devroom-ai/devroom/model"
	"github.com/devroom-ai/devroom/parser"
	"github.com/devroom-ai/devroom/relay"
	"github.com/devroom-ai/devroom/room"
	"github.com/devroom-ai/devroom/sandbox"
	"github.com/devroom-ai/devroom/store"
)

// Exporter pushes a file mapping to a git hosting provider.
type Exporter interface {
	Export(ctx context.Context, opts gitexport.ExportOptions, files map[string]string) (string, error)
}

// SandboxRunner mounts files and starts a preview server.
type SandboxRunner interface {
	Run(ctx context.Context, files map[string]string) (string, error)
}

// Options configures a Handler. Store, Gateway, Hub, and Relay are
// required; the rest are optional and their endpoints report 503 when
// unset.
type Options struct {
	Store     store.ProjectStore
	Gateway   *gateway.Gateway
	Hub       *room.Hub
	Relay     *relay.Relay
	Assistant assistant.Client
	Exporter  Exporter
	Sandbox   SandboxRunner
}

// Handler provides the HTTP API for devroom.
type Handler struct {
	opts     Options
	router   chi.Router
	upgrader websocket.Upgrader
}

// New creates a new HTTP API handler.
func New(opts Options) *Handler {
	h := &Handler{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the app origin; the token is
			// the access control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/projects", h.handleCreateProject)
			r.Get("/projects", h.handleListProjects)
			r.Get("/projects/{id}", h.handleGetProject)
			r.Put("/projects/{id}/users", h.handleUpdateUsers)
			r.Post("/projects/{id}/export", h.handleExport)
		})
		// No timeout: generation and installs can be slow.
		r.Get("/ai", h.handleGenerate)
		r.Post("/projects/{id}/sandbox", h.handleSandboxRun)
	})

	r.Get("/ws", h.handleWebsocket)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createProjectRequest struct {
	Name  string   `json:"name"`
	Users []string `json:"users,omitempty"`
}

type updateUsersRequest struct {
	Users []string `json:"users"`
}

type generateResponse struct {
	Response  string           `json:"response"`
	Form      parser.Form      `json:"form"`
	Artifacts []model.Artifact `json:"artifacts,omitempty"`
}

type exportRequest struct {
	Repo    string            `json:"repo"`
	Branch  string            `json:"branch,omitempty"`
	Message string            `json:"message,omitempty"`
	Files   map[string]string `json:"files"`
}

type exportResponse struct {
	CommitURL string `json:"commit_url"`
}

type sandboxRunRequest struct {
	Files map[string]string `json:"files"`
}

type sandboxRunResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// --- Websocket ---

// inboundMessage is what room clients send over the wire.
type inboundMessage struct {
	Message string `json:"message"`
}

func (h *Handler) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	params := gateway.Params{
		Token:     r.URL.Query().Get("token"),
		ProjectID: r.URL.Query().Get("projectId"),
	}
	if params.Token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			params.Token = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	session, err := h.opts.Gateway.Authenticate(r.Context(), params)
	if err != nil {
		var reject *gateway.RejectError
		if errors.As(err, &reject) {
			writeError(w, rejectStatus(reject.Reason), string(reject.Reason))
			return
		}
		writeError(w, http.StatusInternalServerError, "handshake failed")
		log.Printf("Error authenticating websocket: %v", err)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		log.Printf("Error upgrading websocket for %s: %v", session.ConnID, err)
		return
	}

	conn := room.NewWSConn(wsConn)
	h.opts.Hub.Join(session, conn)
	defer h.opts.Hub.Leave(session.ConnID)

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		text := strings.TrimSpace(in.Message)
		if text == "" {
			continue
		}
		msg := model.NewEnvelope(text, session.Sender())
		// Handled inline so one room's broadcasts keep arrival order.
		h.opts.Relay.Handle(r.Context(), session, msg)
	}
}

func rejectStatus(reason gateway.Reason) int {
	switch reason {
	case gateway.AuthMissing, gateway.AuthInvalid, gateway.AuthExpired:
		return http.StatusUnauthorized
	case gateway.InvalidProject:
		return http.StatusBadRequest
	case gateway.ProjectNotFound:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

// --- Project handlers ---

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now().UTC()
	project := &model.Project{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Users:     req.Users,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if project.Users == nil {
		project.Users = []string{}
	}

	if err := h.opts.Store.CreateProject(r.Context(), project); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "project name already in use")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create project")
		log.Printf("Error creating project: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.opts.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		log.Printf("Error listing projects: %v", err)
		return
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	project, err := h.opts.Store.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get project")
		log.Printf("Error getting project %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) handleUpdateUsers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req updateUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Users == nil {
		writeError(w, http.StatusBadRequest, "users is required")
		return
	}

	if err := h.opts.Store.UpdateUsers(r.Context(), id, req.Users); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update users")
		log.Printf("Error updating users for %s: %v", id, err)
		return
	}

	project, err := h.opts.Store.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// --- Assistant, export, sandbox ---

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}
	prompt := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	reply, err := h.opts.Assistant.Generate(r.Context(), prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, "assistant request failed")
		log.Printf("Error generating response: %v", err)
		return
	}
	res := parser.Parse(reply)
	writeJSON(w, http.StatusOK, generateResponse{
		Response:  reply,
		Form:      res.Form,
		Artifacts: res.Artifacts,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.opts.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if ok, err := h.opts.Store.ProjectExists(r.Context(), id); err != nil || !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "repo is required")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}

	url, err := h.opts.Exporter.Export(r.Context(), gitexport.ExportOptions{
		Repo:    req.Repo,
		Branch:  req.Branch,
		Message: req.Message,
	}, req.Files)
	if err != nil {
		writeError(w, http.StatusBadGateway, "export failed")
		log.Printf("Error exporting project %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusCreated, exportResponse{CommitURL: url})
}

func (h *Handler) handleSandboxRun(w http.ResponseWriter, r *http.Request) {
	if h.opts.Sandbox == nil {
		writeError(w, http.StatusServiceUnavailable, "sandbox not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if ok, err := h.opts.Store.ProjectExists(r.Context(), id); err != nil || !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req sandboxRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	url, err := h.opts.Sandbox.Run(r.Context(), req.Files)
	if err != nil {
		var stageErr *sandbox.StageError
		if errors.As(err, &stageErr) {
			status := http.StatusBadGateway
			if stageErr.Stage == sandbox.StageConfig {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, errorResponse{
				Error: stageErr.Error(),
				Stage: string(stageErr.Stage),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "sandbox run failed")
		log.Printf("Error running sandbox for %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, sandboxRunResponse{URL: url})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
