package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

const maxDownloadBytes = 32 << 20

var _ ports.GenerationService = (*Client)(nil)

type Options struct {
	Timeout  time.Duration
	APIToken string
	// TriggerRPS throttles generation triggers sent by this process. Zero disables throttling.
	TriggerRPS   float64
	TriggerBurst int
	Executor     *resilience.Executor
	HTTPClient   *http.Client
}

// Client talks to the generation service: status queries, triggers, deletes and downloads.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
	triggers   *rate.Limiter
	now        func() time.Time
}

func New(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	var triggers *rate.Limiter
	if options.TriggerRPS > 0 {
		burst := options.TriggerBurst
		if burst <= 0 {
			burst = 1
		}
		triggers = rate.NewLimiter(rate.Limit(options.TriggerRPS), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(options.APIToken),
		httpClient: httpClient,
		executor:   options.Executor,
		triggers:   triggers,
		now:        time.Now,
	}
}

type wireRecord struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

func (c *Client) FetchStatus(ctx context.Context, projectID string) (domain.ProjectDocumentSnapshot, error) {
	query := url.Values{"projectId": []string{projectID}}

	var payload map[string]*wireRecord
	err := c.execute(ctx, "status.fetch", func(ctx context.Context) error {
		payload = nil
		return c.doJSON(ctx, http.MethodGet, "/documents/status?"+query.Encode(), nil, &payload, "status")
	})
	if err != nil {
		return domain.ProjectDocumentSnapshot{}, err
	}

	snapshot := domain.EmptySnapshot(projectID)
	snapshot.FetchedAt = c.now().UTC()
	for _, docType := range domain.DocumentTypes {
		wire := payload[docType.WireKey()]
		if wire == nil {
			continue
		}
		snapshot.Records[docType] = toRecord(docType, wire)
	}
	return snapshot, nil
}

func toRecord(docType domain.DocumentType, wire *wireRecord) domain.DocumentRecord {
	record := domain.DocumentRecord{
		ID:     strings.TrimSpace(wire.ID),
		Type:   docType,
		Status: domain.ParseDocumentStatus(wire.Status),
	}
	if record.Status == domain.StatusNone {
		return domain.DocumentRecord{Type: docType, Status: domain.StatusNone}
	}
	if created, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(wire.CreatedAt)); err == nil {
		record.CreatedAt = created.UTC()
	}
	return record
}

type triggerPayload struct {
	ProjectID   string `json:"projectId"`
	OwnerID     string `json:"ownerId"`
	Requirement string `json:"requirement,omitempty"`
}

func (c *Client) Generate(ctx context.Context, req ports.GenerationRequest) error {
	if !req.Type.Valid() {
		return domain.WrapError(domain.ErrUnknownDocumentType, "trigger document", fmt.Errorf("ordinal %d", int(req.Type)))
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "trigger document", errors.New("project id is required"))
	}

	if c.triggers != nil {
		if err := c.triggers.Wait(ctx); err != nil {
			return domain.WrapError(domain.ErrTemporary, "trigger throttle", err)
		}
	}

	payload := triggerPayload{ProjectID: req.ProjectID, OwnerID: req.OwnerID}
	if req.Type == domain.DocumentRequirement {
		payload.Requirement = req.RequirementText
	}
	path := "/documents/" + req.Type.String()
	return c.executeWith(ctx, "document.trigger", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, path, payload, nil, "trigger "+req.Type.String())
	}, classifyTriggerError)
}

// Delete removes a document. A document the service no longer knows is treated as deleted.
func (c *Client) Delete(ctx context.Context, docType domain.DocumentType, documentID string) error {
	path, err := documentPath(docType, documentID)
	if err != nil {
		return err
	}
	err = c.execute(ctx, "document.delete", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodDelete, path, nil, nil, "delete "+docType.String())
	})
	if domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil
	}
	return err
}

func (c *Client) Download(ctx context.Context, docType domain.DocumentType, documentID string) ([]byte, error) {
	path, err := documentPath(docType, documentID)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = c.execute(ctx, "document.download", func(ctx context.Context) error {
		var err error
		data, err = c.doRaw(ctx, http.MethodGet, path+"/file", "download "+docType.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func documentPath(docType domain.DocumentType, documentID string) (string, error) {
	if !docType.Valid() {
		return "", domain.WrapError(domain.ErrUnknownDocumentType, "document path", fmt.Errorf("ordinal %d", int(docType)))
	}
	id := strings.TrimSpace(documentID)
	if id == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "document path", errors.New("document id is required"))
	}
	return "/documents/" + docType.String() + "/" + url.PathEscape(id), nil
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	return c.executeWith(ctx, operation, call, classifyGenerationError)
}

func (c *Client) executeWith(
	ctx context.Context,
	operation string,
	call func(context.Context) error,
	classifier resilience.ErrorClassifier,
) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifier)
	} else {
		err = call(ctx)
	}
	return wrapServiceError(operation, err)
}
