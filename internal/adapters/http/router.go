package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

const (
	serviceName         = "pipeline-api"
	maxRequirementBytes = 256 << 10
	defaultStreamResync = 15 * time.Second
)

type Router struct {
	cfg       config.Config
	pipelines *usecase.PipelineFactory
	renderer  ports.DocumentRenderer
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger

	// streamResync is how often an idle stream re-queries status so generation started by
	// other clients is picked up.
	streamResync time.Duration
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func WithStreamResync(interval time.Duration) RouterOption {
	return func(rt *Router) {
		if interval > 0 {
			rt.streamResync = interval
		}
	}
}

func NewRouter(
	cfg config.Config,
	pipelines *usecase.PipelineFactory,
	renderer ports.DocumentRenderer,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:          cfg,
		pipelines:    pipelines,
		renderer:     renderer,
		logger:       slog.Default(),
		streamResync: defaultStreamResync,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("GET /v1/projects/{projectID}/documents", rt.getDocuments)
	mux.HandleFunc("GET /v1/projects/{projectID}/documents/stream", rt.streamDocuments)
	mux.HandleFunc("POST /v1/projects/{projectID}/documents/{docType}", rt.triggerDocument)
	mux.HandleFunc("DELETE /v1/projects/{projectID}/documents/{docType}/{documentID}", rt.removeDocument)
	mux.HandleFunc("GET /v1/projects/{projectID}/documents/{docType}/{documentID}/grid", rt.renderDocument)

	var handler http.Handler = mux
	guarded := backpressureMiddleware(
		rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst),
		rt.cfg.APIMaxInFlight,
		time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond,
	)
	handler = exemptPaths(guarded, handler, isOperationalPath)
	handler = apiKeyMiddleware(handler, rt.cfg.APIKey)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func isOperationalPath(path string) bool {
	return path == "/healthz" || path == "/metrics" || strings.HasSuffix(path, "/documents/stream")
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) getDocuments(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	defer session.Close()

	vm, err := session.Refresh(r.Context())
	if err != nil {
		rt.logger.Warn("status_refresh_failed", "project_id", session.ProjectID(), "error", err)
	}
	writeJSON(w, http.StatusOK, vm)
}

type triggerRequest struct {
	Requirement string `json:"requirement"`
}

type actionResponse struct {
	Accepted  bool              `json:"accepted"`
	ViewModel usecase.ViewModel `json:"view_model"`
}

func (rt *Router) triggerDocument(w http.ResponseWriter, r *http.Request) {
	docType, err := domain.ParseDocumentType(r.PathValue("docType"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	var req triggerRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequirementBytes))
	if err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "read request", err))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json")))
			return
		}
	}

	session, ok := rt.freshSession(w, r)
	if !ok {
		return
	}
	defer session.Close()

	accepted, err := session.Trigger(r.Context(), usecase.TriggerRequest{Type: docType, RequirementText: req.Requirement})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeAction(w, session, accepted)
}

func (rt *Router) removeDocument(w http.ResponseWriter, r *http.Request) {
	docType, err := domain.ParseDocumentType(r.PathValue("docType"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	session, ok := rt.freshSession(w, r)
	if !ok {
		return
	}
	defer session.Close()

	removed, err := session.Remove(r.Context(), docType, r.PathValue("documentID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeAction(w, session, removed)
}

func (rt *Router) writeAction(w http.ResponseWriter, session *usecase.PipelineController, accepted bool) {
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusConflict
	}
	writeJSON(w, status, actionResponse{Accepted: accepted, ViewModel: session.ViewModel()})
}

func (rt *Router) renderDocument(w http.ResponseWriter, r *http.Request) {
	docType, err := domain.ParseDocumentType(r.PathValue("docType"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	documentID := r.PathValue("documentID")

	session, ok := rt.freshSession(w, r)
	if !ok {
		return
	}
	defer session.Close()

	if !session.Open(docType, documentID) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:     "document is not available for viewing",
			RequestID: requestIDFromContext(r.Context()),
		})
		return
	}

	doc, err := rt.renderer.Render(r.Context(), docType, documentID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type streamUpdate struct {
	vm  usecase.ViewModel
	err error
}

// streamDocuments pushes a view model on every snapshot update for as long as the client
// stays connected. The controller, and its polling, is bound to the request context.
func (rt *Router) streamDocuments(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming is not supported by response writer"})
		return
	}

	updates := make(chan streamUpdate, 1)
	listener := func(vm usecase.ViewModel, err error) {
		update := streamUpdate{vm: vm, err: err}
		// Only the newest pending update is kept.
		for {
			select {
			case updates <- update:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}

	controller, err := rt.pipelines.Open(r.Context(), r.PathValue("projectID"), listener)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer controller.Close()

	if rt.metrics != nil {
		rt.metrics.StreamOpened()
		defer rt.metrics.StreamClosed()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	resync := time.NewTicker(rt.streamResync)
	defer resync.Stop()
	var resyncing atomic.Bool

	for {
		select {
		case <-r.Context().Done():
			return
		case update := <-updates:
			if err := rt.writeStreamEvent(w, update); err != nil {
				rt.logger.Debug("stream_write_failed", "project_id", controller.ProjectID(), "error", err)
				return
			}
			flusher.Flush()
		case <-resync.C:
			if resyncing.CompareAndSwap(false, true) {
				go func() {
					defer resyncing.Store(false)
					rt.resync(r.Context(), controller)
				}()
			}
		}
	}
}

func (rt *Router) resync(ctx context.Context, controller *usecase.PipelineController) {
	if _, err := controller.Resync(ctx); err != nil && ctx.Err() == nil {
		rt.logger.Warn("stream_resync_failed", "project_id", controller.ProjectID(), "error", err)
	}
}

type streamPayload struct {
	usecase.ViewModel
	Error string `json:"error,omitempty"`
}

func (rt *Router) writeStreamEvent(w io.Writer, update streamUpdate) error {
	kind := "view"
	payload := streamPayload{ViewModel: update.vm}
	if update.err != nil {
		kind = "stale"
		payload.Error = update.err.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "event: "+kind+"\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n\n"); err != nil {
		return err
	}
	if rt.metrics != nil {
		rt.metrics.RecordStreamEvent(serviceName, kind)
	}
	return nil
}

func (rt *Router) session(w http.ResponseWriter, r *http.Request) (*usecase.PipelineController, bool) {
	session, err := rt.pipelines.Session(r.Context(), r.PathValue("projectID"))
	if err != nil {
		rt.writeError(w, r, err)
		return nil, false
	}
	return session, true
}

// freshSession refreshes before returning so that actions are gated on current state.
// Actions are refused while the status endpoint is unreachable.
func (rt *Router) freshSession(w http.ResponseWriter, r *http.Request) (*usecase.PipelineController, bool) {
	session, ok := rt.session(w, r)
	if !ok {
		return nil, false
	}
	if _, err := session.Refresh(r.Context()); err != nil {
		session.Close()
		rt.writeError(w, r, err)
		return nil, false
	}
	return session, true
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
