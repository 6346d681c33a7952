// Package httpx exposes the deployment API surface: create, inspect and
// cancel deployments, webhook triggers, live log streams and metrics.
package httpx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrsh22/filify/internal/domain"
	"github.com/hrsh22/filify/internal/repository"
	"github.com/hrsh22/filify/internal/service/deploy"
	"github.com/hrsh22/filify/internal/ws"
)

const healthCheckTimeout = 2 * time.Second

// Pinger verifies a dependency is reachable, e.g. the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router exposes HTTP endpoints for the deployment server.
type Router struct {
	mux    *http.ServeMux
	logger *slog.Logger
	deploy *deploy.Service
	hub    *ws.Hub
	db     Pinger

	webhookSecret string

	upgrader websocket.Upgrader

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New creates and registers handlers.
func New(logger *slog.Logger, deploySvc *deploy.Service, hub *ws.Hub, db Pinger, webhookSecret string) *Router {
	r := &Router{
		mux:           http.NewServeMux(),
		logger:        logger,
		deploy:        deploySvc,
		hub:           hub,
		db:            db,
		webhookSecret: webhookSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r.initMetrics()

	r.mux.HandleFunc("GET /healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.Handler())
	r.mux.HandleFunc("POST /api/projects/{projectID}/deployments", r.instrument("/api/projects/:id/deployments", r.handleCreate))
	r.mux.HandleFunc("GET /api/projects/{projectID}/deployments", r.instrument("/api/projects/:id/deployments", r.handleList))
	r.mux.HandleFunc("GET /api/deployments/{id}", r.instrument("/api/deployments/:id", r.handleGet))
	r.mux.HandleFunc("POST /api/deployments/{id}/cancel", r.instrument("/api/deployments/:id/cancel", r.handleCancel))
	r.mux.HandleFunc("POST /api/deployments/{id}/publish", r.instrument("/api/deployments/:id/publish", r.handlePublish))
	r.mux.HandleFunc("POST /api/deployments/{id}/confirm-ens", r.instrument("/api/deployments/:id/confirm-ens", r.handleConfirmENS))
	r.mux.HandleFunc("POST /api/deployments/{id}/upload-failed", r.instrument("/api/deployments/:id/upload-failed", r.handleUploadFailed))
	r.mux.HandleFunc("GET /api/deployments/{id}/artifact", r.instrument("/api/deployments/:id/artifact", r.handleArtifactDir))
	r.mux.HandleFunc("POST /webhook/{projectID}", r.instrument("/webhook/:id", r.handleWebhook))
	r.mux.HandleFunc("GET /ws/projects/{projectID}/logs", r.handleLogsWS)

	return r
}

// ServeHTTP dispatches to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.db != nil {
		if err := r.db.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	Resume bool `json:"resume"`
}

func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) {
	projectID := req.PathValue("projectID")

	var body createRequest
	if req.Body != nil {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	dep, err := r.deploy.Create(req.Context(), projectID, deploy.CreateOptions{
		Trigger: domain.TriggerManual,
		Resume:  body.Resume,
	})
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deploymentPayload(dep))
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	projectID := req.PathValue("projectID")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	deployments, err := r.deploy.ListDeployments(req.Context(), projectID, limit)
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(deployments))
	for i := range deployments {
		payload = append(payload, deploymentPayload(&deployments[i]))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	dep, err := r.deploy.GetDeployment(req.Context(), req.PathValue("id"))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentPayload(dep))
}

func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) {
	killed, err := r.deploy.Cancel(req.Context(), req.PathValue("id"))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "killed_process": killed})
}

func (r *Router) handlePublish(w http.ResponseWriter, req *http.Request) {
	dep, err := r.deploy.PrepareENS(req.Context(), req.PathValue("id"))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentPayload(dep))
}

func (r *Router) handleConfirmENS(w http.ResponseWriter, req *http.Request) {
	dep, err := r.deploy.ConfirmENS(req.Context(), req.PathValue("id"))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentPayload(dep))
}

func (r *Router) handleUploadFailed(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.deploy.MarkUploadFailed(req.Context(), req.PathValue("id"), body.Message); err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (r *Router) handleArtifactDir(w http.ResponseWriter, req *http.Request) {
	dir, err := r.deploy.ArtifactDir(req.Context(), req.PathValue("id"))
	if err != nil {
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"artifact_dir": dir})
}

// pushEvent is the subset of a GitHub push payload the webhook needs.
type pushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	HeadCommit struct {
		Message string `json:"message"`
	} `json:"head_commit"`
}

func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	projectID := req.PathValue("projectID")

	payload, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	if err := r.verifySignature(payload, req.Header.Get("X-Hub-Signature-256")); err != nil {
		r.logger.Warn("webhook signature rejected", "project_id", projectID, "error", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event pushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid push payload")
		return
	}

	dep, err := r.deploy.Create(req.Context(), projectID, deploy.CreateOptions{
		Trigger:       domain.TriggerWebhook,
		CommitSHA:     event.After,
		CommitMessage: event.HeadCommit.Message,
	})
	if err != nil {
		if errors.Is(err, deploy.ErrConflict) {
			// A push during an active build is acknowledged, not failed:
			// the sender should not retry.
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "busy"})
			return
		}
		r.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deploymentPayload(dep))
}

func (r *Router) verifySignature(payload []byte, provided string) error {
	if r.webhookSecret == "" {
		return errors.New("webhook secret not configured")
	}
	provided = strings.TrimPrefix(provided, "sha256=")
	if provided == "" {
		return errors.New("missing signature")
	}
	hasher := hmac.New(sha256.New, []byte(r.webhookSecret))
	hasher.Write(payload)
	expected := hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.PathValue("projectID")
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	defer r.hub.Unregister(projectID, client)

	// Drain control frames until the peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Router) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, deploy.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deploy.ErrResumeUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deploy.ErrInvalidState), errors.Is(err, repository.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func deploymentPayload(d *domain.Deployment) map[string]any {
	payload := map[string]any{
		"id":         d.ID,
		"project_id": d.ProjectID,
		"status":     string(d.Status),
		"trigger":    d.Trigger,
		"created_at": d.CreatedAt,
	}
	if d.CommitSHA != "" {
		payload["commit_sha"] = d.CommitSHA
		payload["commit_message"] = d.CommitMessage
	}
	if d.RootCID != "" {
		payload["root_cid"] = d.RootCID
	}
	if d.ContentCID != "" {
		payload["content_cid"] = d.ContentCID
	}
	if d.ENSTxHash != nil {
		payload["ens_tx_hash"] = *d.ENSTxHash
	}
	if d.ErrorMessage != nil {
		payload["error_message"] = *d.ErrorMessage
	}
	if d.BuildLog != "" {
		payload["build_log"] = d.BuildLog
	}
	if d.CompletedAt != nil {
		payload["completed_at"] = *d.CompletedAt
	}
	return payload
}
