package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	outcomeDispatched = "dispatched"
	outcomeSkipped    = "skipped"
	outcomeError      = "error"
)

var statusLabels = map[domain.DocumentStatus]string{
	domain.StatusNone:     "Not generated",
	domain.StatusProgress: "Generating",
	domain.StatusFinished: "Completed",
	domain.StatusError:    "Failed",
}

type DocumentView struct {
	Type         domain.DocumentType `json:"type"`
	DisplayLabel string              `json:"display_label"`
	StatusLabel  string              `json:"status_label"`
	Decision     domain.Decision     `json:"decision"`
}

// ViewModel is what the UI renders for one project. Stale is set while the latest refresh
// failed and the shown state is the last known one.
type ViewModel struct {
	ProjectID string                                 `json:"project_id"`
	Documents [domain.DocumentTypeCount]DocumentView `json:"documents"`
	Stale     bool                                   `json:"stale"`
	FetchedAt time.Time                              `json:"fetched_at,omitzero"`
}

func (vm ViewModel) For(docType domain.DocumentType) DocumentView {
	if !docType.Valid() {
		return DocumentView{Type: docType}
	}
	return vm.Documents[docType]
}

// BuildViewModel combines the gate decisions with the display metadata of every type.
func BuildViewModel(snapshot domain.ProjectDocumentSnapshot, stale bool) ViewModel {
	decisions := Evaluate(snapshot)
	vm := ViewModel{
		ProjectID: snapshot.ProjectID,
		Stale:     stale,
		FetchedAt: snapshot.FetchedAt,
	}
	for _, docType := range domain.DocumentTypes {
		decision := decisions.For(docType)
		vm.Documents[docType] = DocumentView{
			Type:         docType,
			DisplayLabel: domain.MustStyleFor(docType).DisplayName,
			StatusLabel:  statusLabels[decision.Record.Status],
			Decision:     decision,
		}
	}
	return vm
}

// ViewListener is invoked with a fresh view model after every snapshot update. It may be
// called from the poll goroutine and from action callers concurrently.
type ViewListener func(vm ViewModel, err error)

type PipelineDeps struct {
	Tracker   *StatusTracker
	Scheduler *PollingScheduler
	Generator ports.DocumentGenerator
	Remover   ports.DocumentRemover
	Navigator ports.ViewerNavigator
	Observer  ports.PipelineObserver
	OwnerID   string
	Logger    *slog.Logger
}

// PipelineFactory opens one PipelineController per project view.
type PipelineFactory struct {
	deps PipelineDeps
}

func NewPipelineFactory(deps PipelineDeps) *PipelineFactory {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &PipelineFactory{deps: deps}
}

func (f *PipelineFactory) Tracker() *StatusTracker {
	return f.deps.Tracker
}

// Open starts polling for projectID. The controller is closed when ctx ends or Close is called.
func (f *PipelineFactory) Open(ctx context.Context, projectID string, listener ViewListener) (*PipelineController, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open pipeline", errors.New("project id is required"))
	}

	viewCtx, cancel := context.WithCancel(ctx)
	c := &PipelineController{
		deps:      f.deps,
		projectID: projectID,
		listener:  listener,
		logger:    f.deps.Logger.With("project_id", projectID),
		ctx:       viewCtx,
		cancel:    cancel,
		removed:   make(map[string]struct{}),
	}
	context.AfterFunc(viewCtx, c.Close)
	c.restartPolling()
	return c, nil
}

// Session returns a controller for one-shot actions. It never polls in the background;
// callers refresh explicitly. It is closed when ctx ends.
func (f *PipelineFactory) Session(ctx context.Context, projectID string) (*PipelineController, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open session", errors.New("project id is required"))
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	c := &PipelineController{
		deps:      f.deps,
		projectID: projectID,
		logger:    f.deps.Logger.With("project_id", projectID),
		ctx:       sessionCtx,
		cancel:    cancel,
		removed:   make(map[string]struct{}),
		detached:  true,
	}
	context.AfterFunc(sessionCtx, c.Close)
	return c, nil
}

// PipelineController is the per-project-view composition of tracker, gate and scheduler.
type PipelineController struct {
	deps      PipelineDeps
	projectID string
	listener  ViewListener
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// actionMu serializes Trigger and Remove.
	actionMu sync.Mutex
	removed  map[string]struct{}

	// restartMu serializes poll loop replacement; listenerMu fences listener calls against Close.
	restartMu  sync.Mutex
	listenerMu sync.Mutex

	pollMu   sync.Mutex
	handle   *PollHandle
	closed   bool
	stale    bool
	detached bool
}

func (c *PipelineController) ProjectID() string { return c.projectID }

func (c *PipelineController) ViewModel() ViewModel {
	c.pollMu.Lock()
	stale := c.stale
	c.pollMu.Unlock()
	return BuildViewModel(c.deps.Tracker.Current(c.projectID), stale)
}

// Refresh forces an immediate out-of-band refresh and returns the resulting view model.
func (c *PipelineController) Refresh(ctx context.Context) (ViewModel, error) {
	snapshot, err := c.deps.Tracker.Refresh(ctx, c.projectID)
	c.handleUpdate(snapshot, err)
	if err == nil && snapshot.AnyInProgress() {
		c.ensurePolling()
	}
	return c.ViewModel(), err
}

// Resync refreshes only when no poll loop is running; a running loop already keeps the
// snapshot current.
func (c *PipelineController) Resync(ctx context.Context) (ViewModel, error) {
	c.pollMu.Lock()
	running := c.handle != nil && c.handle.Running()
	c.pollMu.Unlock()
	if running {
		return c.ViewModel(), nil
	}
	return c.Refresh(ctx)
}

type TriggerRequest struct {
	Type            domain.DocumentType
	RequirementText string
}

// Trigger dispatches generation only if the gate, evaluated against the latest snapshot,
// offers generate for the type. Otherwise it does nothing and returns false.
func (c *PipelineController) Trigger(ctx context.Context, req TriggerRequest) (bool, error) {
	if !req.Type.Valid() {
		return false, domain.WrapError(domain.ErrInvalidInput, "trigger generation", fmt.Errorf("document type %d", int(req.Type)))
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if c.isClosed() {
		return false, nil
	}

	decision := Evaluate(c.deps.Tracker.Current(c.projectID)).For(req.Type)
	if decision.Action != domain.ActionGenerate {
		c.deps.Observer.ObserveTrigger(req.Type, outcomeSkipped)
		c.logger.Debug("trigger_skipped", "document_type", req.Type.String(), "action", string(decision.Action))
		return false, nil
	}
	if req.Type == domain.DocumentRequirement && strings.TrimSpace(req.RequirementText) == "" {
		return false, domain.WrapError(domain.ErrInvalidInput, "trigger generation", errors.New("requirement text is required"))
	}

	err := c.deps.Generator.Generate(ctx, ports.GenerationRequest{
		Type:            req.Type,
		ProjectID:       c.projectID,
		OwnerID:         c.deps.OwnerID,
		RequirementText: req.RequirementText,
	})
	if err != nil {
		c.deps.Observer.ObserveTrigger(req.Type, outcomeError)
		return false, fmt.Errorf("dispatch %s generation: %w", req.Type, err)
	}
	c.deps.Observer.ObserveTrigger(req.Type, outcomeDispatched)
	c.logger.Info("generation_triggered", "document_type", req.Type.String())

	c.restartPolling()
	return true, nil
}

// Open asks the navigator to show a finished document. It is a no-op unless the gate
// currently offers view for the type and documentID matches the record.
func (c *PipelineController) Open(docType domain.DocumentType, documentID string) bool {
	decision := Evaluate(c.deps.Tracker.Current(c.projectID)).For(docType)
	if decision.Action != domain.ActionView || decision.Record.ID != documentID {
		return false
	}
	if c.deps.Navigator != nil {
		c.deps.Navigator.OpenViewer(c.projectID, docType, documentID)
	}
	return true
}

// Remove deletes the document and refreshes immediately. A document that is already
// gone, or was already removed through this controller, is not deleted again.
func (c *PipelineController) Remove(ctx context.Context, docType domain.DocumentType, documentID string) (bool, error) {
	if !docType.Valid() {
		return false, domain.WrapError(domain.ErrInvalidInput, "remove document", fmt.Errorf("document type %d", int(docType)))
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if c.isClosed() {
		return false, nil
	}

	record := c.deps.Tracker.Current(c.projectID).Record(docType)
	_, alreadyRemoved := c.removed[documentID]
	if record.Status == domain.StatusNone || record.ID == "" || record.ID != documentID || alreadyRemoved {
		c.deps.Observer.ObserveRemove(docType, outcomeSkipped)
		return false, nil
	}

	if err := c.deps.Remover.Delete(ctx, docType, documentID); err != nil {
		c.deps.Observer.ObserveRemove(docType, outcomeError)
		return false, fmt.Errorf("delete %s document: %w", docType, err)
	}
	c.removed[documentID] = struct{}{}
	c.deps.Observer.ObserveRemove(docType, outcomeDispatched)
	c.logger.Info("document_removed", "document_type", docType.String(), "document_id", documentID)

	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Warn("refresh_after_remove_failed", "error", err)
	}
	return true, nil
}

// Close cancels the owned poll loop. It waits for a listener call in progress, and
// the listener is not called once Close has returned. Must not be called from a listener.
func (c *PipelineController) Close() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.pollMu.Lock()
	if c.closed {
		c.pollMu.Unlock()
		return
	}
	c.closed = true
	handle := c.handle
	c.handle = nil
	c.pollMu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
	c.cancel()
}

func (c *PipelineController) isClosed() bool {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return c.closed
}

// restartPolling replaces the poll loop. The old loop has fully exited before the new
// one starts, so their refreshes never overlap. Must not be called from a listener.
func (c *PipelineController) restartPolling() {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.pollMu.Lock()
	if c.closed || c.detached {
		c.pollMu.Unlock()
		return
	}
	old := c.handle
	c.handle = nil
	c.pollMu.Unlock()

	if old != nil {
		old.Cancel()
		<-old.Done()
	}

	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.closed {
		return
	}
	c.handle = c.deps.Scheduler.Start(c.ctx, c.projectID, c.handleUpdate)
}

func (c *PipelineController) ensurePolling() {
	c.pollMu.Lock()
	running := c.handle != nil && c.handle.Running()
	c.pollMu.Unlock()
	if !running {
		c.restartPolling()
	}
}

func (c *PipelineController) handleUpdate(snapshot domain.ProjectDocumentSnapshot, err error) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.pollMu.Lock()
	if c.closed {
		c.pollMu.Unlock()
		return
	}
	c.stale = err != nil
	stale := c.stale
	c.pollMu.Unlock()

	if c.listener != nil {
		c.listener(BuildViewModel(snapshot, stale), err)
	}
}
