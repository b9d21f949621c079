package httpadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

func serve(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeAction(t *testing.T, res *httptest.ResponseRecorder) actionResponse {
	t.Helper()
	var out actionResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode action response: %v", err)
	}
	return out
}

func TestGetDocumentsReturnsViewModel(t *testing.T) {
	service := &generationServiceFake{}
	service.set(domain.DocumentRequirement, domain.StatusFinished)
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodGet, "/v1/projects/p-1/documents", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var vm usecase.ViewModel
	if err := json.NewDecoder(res.Body).Decode(&vm); err != nil {
		t.Fatalf("decode view model: %v", err)
	}
	if vm.ProjectID != "p-1" || vm.Stale {
		t.Fatalf("unexpected view model: %+v", vm)
	}
	if vm.For(domain.DocumentRequirement).Decision.Action != domain.ActionView ||
		vm.For(domain.DocumentFunctional).Decision.Action != domain.ActionGenerate ||
		vm.For(domain.DocumentPolicy).Decision.Action != domain.ActionNone {
		t.Fatalf("unexpected decisions: %+v", vm.Documents)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestGetDocumentsMarksStaleOnFetchFailure(t *testing.T) {
	service := &generationServiceFake{fetchErr: errors.New("connection refused")}
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodGet, "/v1/projects/p-1/documents", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var vm usecase.ViewModel
	if err := json.NewDecoder(res.Body).Decode(&vm); err != nil {
		t.Fatalf("decode view model: %v", err)
	}
	if !vm.Stale {
		t.Fatalf("expected stale view model")
	}
}

func TestTriggerGatedDocumentReturns409(t *testing.T) {
	service := &generationServiceFake{}
	service.set(domain.DocumentRequirement, domain.StatusProgress)
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodPost, "/v1/projects/p-1/documents/functional", "")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.Code, res.Body.String())
	}
	if out := decodeAction(t, res); out.Accepted {
		t.Fatalf("gated trigger must not be accepted")
	}
	if triggers, _ := service.counts(); triggers != 0 {
		t.Fatalf("gated trigger must not reach the service, got %d", triggers)
	}
}

func TestTriggerRequirementNeedsText(t *testing.T) {
	handler := newTestRouter(config.Config{}, &generationServiceFake{}).Handler()

	res := serve(handler, http.MethodPost, "/v1/projects/p-1/documents/requirement", `{"requirement": "  "}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
	}
}

func TestTriggerRequirementDispatches(t *testing.T) {
	service := &generationServiceFake{}
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodPost, "/v1/projects/p-1/documents/requirement", `{"requirement": "Users sign in with email"}`)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if out := decodeAction(t, res); !out.Accepted {
		t.Fatalf("expected accepted trigger")
	}

	service.mu.Lock()
	defer service.mu.Unlock()
	if len(service.triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(service.triggers))
	}
	got := service.triggers[0]
	if got.ProjectID != "p-1" || got.OwnerID != "owner-1" || got.RequirementText != "Users sign in with email" {
		t.Fatalf("unexpected trigger: %+v", got)
	}
}

func TestTriggerRejectsUnknownTypeAndBadJSON(t *testing.T) {
	handler := newTestRouter(config.Config{}, &generationServiceFake{}).Handler()

	if res := serve(handler, http.MethodPost, "/v1/projects/p-1/documents/roadmap", ""); res.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: expected 400, got %d", res.Code)
	}
	if res := serve(handler, http.MethodPost, "/v1/projects/p-1/documents/requirement", "{"); res.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", res.Code)
	}
}

func TestTriggerRefusedWhileStatusUnavailable(t *testing.T) {
	service := &generationServiceFake{
		fetchErr: domain.WrapError(domain.ErrTemporary, "status", errors.New("503 Service Unavailable")),
	}
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodPost, "/v1/projects/p-1/documents/requirement", `{"requirement": "x"}`)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", res.Code, res.Body.String())
	}
	if triggers, _ := service.counts(); triggers != 0 {
		t.Fatalf("trigger must not be sent without a fresh snapshot")
	}
}

func TestRemoveTwiceDeletesOnce(t *testing.T) {
	service := &generationServiceFake{}
	service.set(domain.DocumentRequirement, domain.StatusFinished)
	service.set(domain.DocumentFunctional, domain.StatusError)
	handler := newTestRouter(config.Config{}, service).Handler()

	first := serve(handler, http.MethodDelete, "/v1/projects/p-1/documents/functional/functional-1", "")
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", first.Code, first.Body.String())
	}
	out := decodeAction(t, first)
	if out.ViewModel.For(domain.DocumentFunctional).Decision.Action != domain.ActionGenerate {
		t.Fatalf("expected refreshed view after delete, got %+v", out.ViewModel.For(domain.DocumentFunctional))
	}

	second := serve(handler, http.MethodDelete, "/v1/projects/p-1/documents/functional/functional-1", "")
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 for repeated delete, got %d", second.Code)
	}
	if _, deletes := service.counts(); deletes != 1 {
		t.Fatalf("expected exactly 1 delete, got %d", deletes)
	}
}

func TestRenderDocumentGrid(t *testing.T) {
	service := &generationServiceFake{workbooks: map[string][]byte{"requirement-1": testWorkbook(t)}}
	service.set(domain.DocumentRequirement, domain.StatusFinished)
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodGet, "/v1/projects/p-1/documents/requirement/requirement-1/grid", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var doc domain.RenderedDocument
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode rendered document: %v", err)
	}
	if doc.DisplayName != "Requirements Specification" || len(doc.Rows) != 2 || len(doc.Header) != 2 {
		t.Fatalf("unexpected rendered document: %+v", doc)
	}
	if doc.Rows[0][0].RowSpan != 2 || !doc.Rows[1][0].Covered {
		t.Fatalf("expected merged first column, got %+v", doc.Rows)
	}
}

func TestRenderDocumentNotViewable(t *testing.T) {
	service := &generationServiceFake{}
	service.set(domain.DocumentRequirement, domain.StatusProgress)
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodGet, "/v1/projects/p-1/documents/requirement/requirement-1/grid", "")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestRenderDocumentDecodeFailureIs422(t *testing.T) {
	service := &generationServiceFake{workbooks: map[string][]byte{"requirement-1": []byte("not a workbook")}}
	service.set(domain.DocumentRequirement, domain.StatusFinished)
	handler := newTestRouter(config.Config{}, service).Handler()

	res := serve(handler, http.MethodGet, "/v1/projects/p-1/documents/requirement/requirement-1/grid", "")
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.Code, res.Body.String())
	}
}

func TestStreamEmitsViewEvents(t *testing.T) {
	service := &generationServiceFake{}
	service.set(domain.DocumentRequirement, domain.StatusProgress)
	server := httptest.NewServer(newTestRouter(config.Config{}, service).Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/projects/p-1/documents/stream", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var vm usecase.ViewModel
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &vm); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event != "view" || vm.ProjectID != "p-1" {
			t.Fatalf("unexpected event %q: %+v", event, vm)
		}
		if vm.For(domain.DocumentRequirement).Decision.Action == domain.ActionWait {
			service.set(domain.DocumentRequirement, domain.StatusFinished)
			continue
		}
		if vm.For(domain.DocumentRequirement).Decision.Action == domain.ActionView {
			return
		}
	}
	t.Fatalf("stream ended before the finished view arrived: %v", scanner.Err())
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	handler := newTestRouter(config.Config{}, &generationServiceFake{}, WithMetrics(httpMetrics)).Handler()

	serve(handler, http.MethodGet, "/healthz", "")
	res := serve(handler, http.MethodGet, "/metrics", "")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `docpipe_http_requests_total{method="GET",path="/healthz"`) {
		t.Fatalf("unexpected metrics response %d:\n%s", res.Code, res.Body.String())
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrUnknownDocumentType, "op", errors.New("x")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrDocumentNotFound, "op", errors.New("x")), http.StatusNotFound},
		{domain.WrapError(domain.ErrDecode, "op", errors.New("x")), http.StatusUnprocessableEntity},
		{domain.WrapError(domain.ErrFetch, "op", domain.WrapError(domain.ErrTemporary, "op", errors.New("x"))), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrFetch, "op", errors.New("x")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
