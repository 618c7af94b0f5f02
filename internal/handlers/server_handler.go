package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"natsvisor/internal/launch"
	"natsvisor/internal/models"
	"natsvisor/internal/service"
	"natsvisor/internal/stager"
	"natsvisor/internal/store"
)

// RunLister reads recorded launches.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]models.Run, error)
	Get(ctx context.Context, id string) (models.Run, error)
}

type ServerHandler struct {
	launcher *service.Launcher
	runs     RunLister
	logger   zerolog.Logger
}

func NewServerHandler(l *service.Launcher, runs RunLister, logger zerolog.Logger) *ServerHandler {
	return &ServerHandler{launcher: l, runs: runs, logger: logger}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type StartResponse struct {
	Status  string         `json:"status"`
	RunID   string         `json:"run_id"`
	Pid     int            `json:"pid"`
	Args    []string       `json:"args"`
	Options launch.Options `json:"options"`
}

func (h *ServerHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Error encoding JSON response")
	}
}

func (h *ServerHandler) writeError(w http.ResponseWriter, status int, err error, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: message,
	})
}

func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (h *ServerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.launcher.Supervisor().Status()
	status.Staged = h.launcher.IsStaged()
	h.writeJSON(w, http.StatusOK, status)
}

func (h *ServerHandler) Stage(w http.ResponseWriter, r *http.Request) {
	staged, err := h.launcher.Stage()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err, "Failed to stage gnatsd")
		return
	}
	h.writeJSON(w, http.StatusOK, staged)
}

func (h *ServerHandler) Start(w http.ResponseWriter, r *http.Request) {
	var (
		p    *service.Process
		opts launch.Options
		err  error
	)

	if preset := r.URL.Query().Get("preset"); preset != "" {
		p, opts, err = h.launcher.StartPreset(r.Context(), preset)
	} else {
		var req launch.Request
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil && !errors.Is(decErr, io.EOF) {
			h.writeError(w, http.StatusBadRequest, decErr, "Invalid start request")
			return
		}
		p, opts, err = h.launcher.Start(r.Context(), req)
	}

	if err != nil {
		h.writeStartError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StartResponse{
		Status:  "started",
		RunID:   p.ID().String(),
		Pid:     p.PID(),
		Args:    p.Args(),
		Options: opts,
	})
}

func (h *ServerHandler) writeStartError(w http.ResponseWriter, err error) {
	var (
		stageErr  *stager.StagingError
		launchErr *service.LaunchError
	)

	switch {
	case errors.Is(err, service.ErrPresetNotFound):
		h.writeError(w, http.StatusNotFound, err, "Preset not found")
	case errors.Is(err, service.ErrAlreadyRunning):
		h.writeError(w, http.StatusConflict, err, "Server already running")
	case errors.As(err, &stageErr):
		h.writeError(w, http.StatusInternalServerError, err, "Failed to stage gnatsd")
	case errors.As(err, &launchErr):
		h.writeError(w, http.StatusInternalServerError, err, "Failed to start server")
	default:
		h.writeError(w, http.StatusInternalServerError, err, "Failed to start server")
	}
}

func (h *ServerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.launcher.Stop(); err != nil {
		switch {
		case errors.Is(err, service.ErrNotLaunched):
			h.writeError(w, http.StatusConflict, err, "Server was never started")
		case errors.Is(err, service.ErrStaleHandle):
			h.writeError(w, http.StatusConflict, err, "Server not running")
		default:
			h.writeError(w, http.StatusInternalServerError, err, "Failed to stop server")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, SuccessResponse{
		Status:  "stopped",
		Message: "Server stopped",
	})
}

// KillPID force-kills ?pid=N. It is the escape hatch for a gnatsd the
// supervisor no longer tracks and signals whatever currently owns that pid.
func (h *ServerHandler) KillPID(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.URL.Query().Get("pid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err, "Invalid pid")
		return
	}

	if err := h.launcher.KillPID(pid); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPID):
			h.writeError(w, http.StatusBadRequest, err, "Invalid pid")
		case errors.Is(err, syscall.ESRCH):
			h.writeError(w, http.StatusNotFound, err, "No such process")
		default:
			h.writeError(w, http.StatusInternalServerError, err, "Failed to kill process")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, SuccessResponse{
		Status:  "killed",
		Message: fmt.Sprintf("Sent SIGKILL to PID %d", pid),
	})
}

func (h *ServerHandler) GetPresets(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.launcher.Presets())
}

func (h *ServerHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)
	if level := r.URL.Query().Get("level"); level != "" {
		h.writeJSON(w, http.StatusOK, h.launcher.Supervisor().LogsByLevel(level, limit))
		return
	}
	h.writeJSON(w, http.StatusOK, h.launcher.Supervisor().Logs(limit))
}

func (h *ServerHandler) GetRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeJSON(w, http.StatusOK, []models.Run{})
		return
	}

	runs, err := h.runs.Recent(r.Context(), limitParam(r, 20))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err, "Failed to read run history")
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *ServerHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.runs == nil {
		h.writeError(w, http.StatusNotFound, store.ErrRunNotFound, "Run history is disabled")
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			h.writeError(w, http.StatusNotFound, err, "Run not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err, "Failed to read run history")
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}
