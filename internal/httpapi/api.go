package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/PsychLayne/RiskTakingSuite/internal/bootstrap"
	"github.com/PsychLayne/RiskTakingSuite/internal/service"
)

type api struct {
	core *bootstrap.Core
}

func newAPI(core *bootstrap.Core) *api {
	return &api{core: core}
}

// registerJSONRoutes 注册 UI 层使用的 JSON 路由
func (a *api) registerJSONRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/experiments", a.handleCreateExperiment)
	mux.HandleFunc("GET /api/experiments", a.handleListExperiments)
	mux.HandleFunc("GET /api/experiments/{code}/export", a.handleExportExperiment)
	mux.HandleFunc("POST /api/enroll", a.handleEnroll)
	mux.HandleFunc("POST /api/sessions/start", a.handleStartSession)
	mux.HandleFunc("POST /api/sessions/{id}/complete", a.handleCompleteSession)
	mux.HandleFunc("POST /api/trials", a.handleRecordTrial)
	mux.HandleFunc("GET /api/progress", a.handleProgress)
	mux.HandleFunc("GET /api/participants/{code}/eligibility", a.handleEligibility)
	mux.HandleFunc("GET /api/stats/tasks", a.handleTaskStats)
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"safe_mode": a.core.DB.SafeMode,
		"version":   a.core.Cfg.App.Version,
	})
}

// handleSSE 推送引擎事件流
func (a *api) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := a.core.Hub.Subscribe(r.Context(), 32)
	for evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func (a *api) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var def service.ExperimentDef
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	exp, err := a.core.Services.Experiments.Create(r.Context(), &def)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (a *api) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	stats, err := a.core.Services.Stats.Experiments(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handleExportExperiment(w http.ResponseWriter, r *http.Request) {
	data, err := a.core.Services.Templates.Export(r.Context(), r.PathValue("code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func (a *api) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantCode string `json:"participant_code"`
		ExperimentCode  string `json:"experiment_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	enroll, err := a.core.Services.Enrollments.Enroll(r.Context(), req.ParticipantCode, req.ExperimentCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, enroll)
}

func (a *api) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantCode string `json:"participant_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := a.core.Services.Sessions.StartOrResume(r.Context(), req.ParticipantCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *api) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("无效的会话 ID"))
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := a.core.Services.Sessions.CompleteSession(r.Context(), id, force); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": true})
}

func (a *api) handleRecordTrial(w http.ResponseWriter, r *http.Request) {
	var in service.RecordTrialInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.core.Services.Sessions.RecordTrial(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (a *api) handleProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := a.core.Services.Enrollments.GetProgress(r.Context(),
		r.URL.Query().Get("participant"), r.URL.Query().Get("experiment"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (a *api) handleEligibility(w http.ResponseWriter, r *http.Request) {
	elig, err := a.core.Services.Sessions.CanStartNextSession(r.Context(), r.PathValue("code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

func (a *api) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.core.Services.Stats.TaskUsage(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeServiceError 将领域错误映射到 HTTP 状态码
// 校验失败一次性返回完整问题列表。
func writeServiceError(w http.ResponseWriter, err error) {
	if ve := service.AsValidationError(err); ve != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "validation_failed",
			"problems": ve.Problems,
		})
		return
	}
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrConstraintViolation):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrInsufficientDistinctTasks):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, service.ErrExperimentClosed):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
