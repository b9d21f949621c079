package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

const DefaultSubjectPrefix = "documents.status"

// Publisher announces project snapshot changes on <prefix>.<project>.
type Publisher struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	SubjectPrefix        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.Trim(strings.TrimSpace(options.SubjectPrefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	conn, err := nats.Connect(
		url,
		nats.Name("document-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		prefix:   prefix,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// SnapshotEvent is the payload published for every observed status change.
type SnapshotEvent struct {
	ProjectID string                  `json:"project_id"`
	Documents []domain.DocumentRecord `json:"documents"`
	FetchedAt time.Time               `json:"fetched_at"`
}

func NewSnapshotEvent(snapshot domain.ProjectDocumentSnapshot) SnapshotEvent {
	event := SnapshotEvent{
		ProjectID: snapshot.ProjectID,
		Documents: make([]domain.DocumentRecord, 0, domain.DocumentTypeCount),
		FetchedAt: snapshot.FetchedAt,
	}
	for _, docType := range domain.DocumentTypes {
		event.Documents = append(event.Documents, snapshot.Record(docType))
	}
	return event
}

func (p *Publisher) PublishSnapshot(ctx context.Context, snapshot domain.ProjectDocumentSnapshot) error {
	data, err := json.Marshal(NewSnapshotEvent(snapshot))
	if err != nil {
		return fmt.Errorf("marshal snapshot event: %w", err)
	}
	subject := Subject(p.prefix, snapshot.ProjectID)

	call := func(_ context.Context) error {
		if err := p.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeSnapshots delivers events for one project (or every project when projectID is
// empty) until ctx ends.
func (p *Publisher) SubscribeSnapshots(ctx context.Context, projectID string, handler func(context.Context, SnapshotEvent) error) error {
	subject := p.prefix + ".>"
	if strings.TrimSpace(projectID) != "" {
		subject = Subject(p.prefix, projectID)
	}

	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var event SnapshotEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.Warn("snapshot_event_malformed", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			p.logger.Error("snapshot_event_handler_failed", "project_id", event.ProjectID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

// Subject builds the per-project subject. Characters NATS treats as token separators or
// wildcards are replaced so one project always maps to a single token.
func Subject(prefix, projectID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(projectID))
	if token == "" {
		token = "_"
	}
	return prefix + "." + token
}

// NopPublisher is used when no NATS server is configured.
type NopPublisher struct{}

func (NopPublisher) PublishSnapshot(context.Context, domain.ProjectDocumentSnapshot) error {
	return nil
}
