// Package admin provides HTTP handlers for the kernel admin API.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/artpar/modkernel/core/commands"
	"github.com/artpar/modkernel/core/kernel"
	"github.com/artpar/modkernel/core/modules"
	"github.com/artpar/modkernel/core/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler exposes kernel state and console commands over HTTP.
type Handler struct {
	kernel *kernel.Kernel
	logger zerolog.Logger
}

// Deps contains dependencies for the admin handler.
type Deps struct {
	Kernel *kernel.Kernel
	Logger zerolog.Logger
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		kernel: deps.Kernel,
		logger: deps.Logger,
	}
}

// Router returns the admin API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/modules", h.ListModules)
	r.Get("/modules/{name}", h.GetModule)
	r.Put("/modules/{name}/exclusion", h.ExcludeModule)
	r.Delete("/modules/{name}/exclusion", h.IncludeModule)

	r.Get("/commands", h.ListCommands)
	r.Post("/commands/execute", h.ExecuteCommand)

	r.Get("/tasks", h.ListTasks)
	r.Get("/services", h.ListServices)

	return r
}

// ListModules returns every known module.
//
//	@Summary	List modules
//	@Tags		Modules
//	@Produce	json
//	@Success	200	{object}	ModulesResponse
//	@Router		/api/modules [get]
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	list := h.kernel.Modules.Modules()
	writeJSON(w, http.StatusOK, ModulesResponse{Modules: list, Total: len(list)})
}

// GetModule returns one module by name.
func (h *Handler) GetModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, ok := h.kernel.Modules.Module(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "module not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ExcludeModule persists the exclusion flag of a module.
func (h *Handler) ExcludeModule(w http.ResponseWriter, r *http.Request) {
	h.setExcluded(w, r, true)
}

// IncludeModule clears the exclusion flag of a module.
func (h *Handler) IncludeModule(w http.ResponseWriter, r *http.Request) {
	h.setExcluded(w, r, false)
}

func (h *Handler) setExcluded(w http.ResponseWriter, r *http.Request, excluded bool) {
	name := chi.URLParam(r, "name")

	info, ok := h.kernel.Modules.Module(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "module not found: "+name)
		return
	}

	if err := h.kernel.Modules.SetExcluded(info.Manifest, excluded); err != nil {
		h.logger.Error().Err(err).Str("module", info.Name).Msg("failed to persist exclusion")
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	h.logger.Info().Str("module", info.Name).Bool("excluded", excluded).Msg("module exclusion changed")
	writeJSON(w, http.StatusOK, ExclusionResponse{
		Module:   info.Name,
		Key:      info.ExclusionKey(),
		Excluded: excluded,
	})
}

// ListCommands returns every registered console command.
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	registered := h.kernel.Commands.Commands()

	out := make([]CommandView, 0, len(registered))
	for _, c := range registered {
		out = append(out, CommandView{
			Name:        c.Name,
			Aliases:     c.Aliases,
			Description: c.Description,
			Permission:  c.Permission,
			TakesArgs:   c.TakesArgs,
		})
	}
	writeJSON(w, http.StatusOK, CommandsResponse{Commands: out, Total: len(out)})
}

// ExecuteCommand dispatches one console line and returns what it printed.
// The admin sender holds every permission.
//
//	@Summary	Execute a console command
//	@Tags		Commands
//	@Accept		json
//	@Produce	json
//	@Param		request	body		ExecuteRequest	true	"Command line"
//	@Success	200		{object}	ExecuteResponse
//	@Failure	400		{object}	map[string]any
//	@Router		/api/commands/execute [post]
func (h *Handler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Line) == "" {
		writeError(w, http.StatusBadRequest, "missing_line", "line is required")
		return
	}

	sender := &capture{}
	h.kernel.Commands.Execute(sender, req.Line)

	writeJSON(w, http.StatusOK, ExecuteResponse{Line: req.Line, Output: sender.lines()})
}

// ListTasks returns every active schedule.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	list := h.kernel.Tasks.List()
	writeJSON(w, http.StatusOK, TasksResponse{Tasks: list, Total: len(list)})
}

// ListServices returns the keys of every published service.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	keys := h.kernel.Services.Keys()

	out := make([]ServiceView, 0, len(keys))
	for _, k := range keys {
		out = append(out, ServiceView{Type: k.Type.String(), Name: k.Name})
	}
	writeJSON(w, http.StatusOK, ServicesResponse{Services: out, Total: len(out)})
}

// capture is a commands.Sender that records every message.
type capture struct {
	mu  sync.Mutex
	out []string
}

func (c *capture) Name() string { return "admin-api" }

func (c *capture) HasPermission(string) bool { return true }

func (c *capture) Send(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, message)
}

func (c *capture) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.out...)
}

var _ commands.Sender = (*capture)(nil)

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

// ModulesResponse lists modules.
type ModulesResponse struct {
	Modules []modules.Info `json:"modules"`
	Total   int            `json:"total"`
}

// ExclusionResponse reports a changed exclusion flag.
type ExclusionResponse struct {
	Module   string `json:"module"`
	Key      string `json:"key"`
	Excluded bool   `json:"excluded"`
}

// CommandView describes one registered command.
type CommandView struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description"`
	Permission  string   `json:"permission,omitempty"`
	TakesArgs   bool     `json:"takes_args"`
}

// CommandsResponse lists commands.
type CommandsResponse struct {
	Commands []CommandView `json:"commands"`
	Total    int           `json:"total"`
}

// ExecuteRequest is the body of POST /commands/execute.
type ExecuteRequest struct {
	Line string `json:"line"`
}

// ExecuteResponse carries the messages sent while the command ran.
type ExecuteResponse struct {
	Line   string   `json:"line"`
	Output []string `json:"output"`
}

// TasksResponse lists schedules.
type TasksResponse struct {
	Tasks []tasks.Info `json:"tasks"`
	Total int          `json:"total"`
}

// ServiceView names one published service.
type ServiceView struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ServicesResponse lists services.
type ServicesResponse struct {
	Services []ServiceView `json:"services"`
	Total    int           `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
