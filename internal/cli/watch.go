package cli

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
)

type watchOptions struct {
	untilSettled bool
	openFinished bool
}

func (r *runner) watchCommand() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Print the view model on every status change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.watch(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.untilSettled, "until-settled", true, "exit once no document is generating")
	cmd.Flags().BoolVar(&opts.openFinished, "open", false, "open the viewer for every finished document")
	return cmd
}

// settled reports whether no document is waiting on generation and the view is current.
func settled(vm usecase.ViewModel) bool {
	if vm.Stale {
		return false
	}
	for _, docType := range domain.DocumentTypes {
		if vm.For(docType).Decision.Action == domain.ActionWait {
			return false
		}
	}
	return true
}

func (r *runner) watch(ctx context.Context, projectID string, opts watchOptions) error {
	var (
		once       sync.Once
		openMu     sync.Mutex
		controller *usecase.PipelineController
	)
	done := make(chan struct{})
	failed := make(chan error, 1)
	ready := make(chan struct{})
	opened := make(map[string]struct{})

	listener := func(vm usecase.ViewModel, err error) {
		if perr := r.print(vm); perr != nil {
			select {
			case failed <- perr:
			default:
			}
			return
		}
		if err != nil {
			r.app.Logger.Warn("status_refresh_failed", "project_id", projectID, "error", err)
		}
		if opts.openFinished {
			<-ready
			openMu.Lock()
			for _, docType := range domain.DocumentTypes {
				decision := vm.For(docType).Decision
				if _, seen := opened[decision.Record.ID]; seen || decision.Action != domain.ActionView {
					continue
				}
				if controller.Open(docType, decision.Record.ID) {
					opened[decision.Record.ID] = struct{}{}
				}
			}
			openMu.Unlock()
		}
		if opts.untilSettled && settled(vm) {
			once.Do(func() { close(done) })
		}
	}

	c, err := r.app.Pipelines.Open(ctx, projectID, listener)
	if err != nil {
		return err
	}
	controller = c
	close(ready)
	defer controller.Close()

	select {
	case <-done:
		return nil
	case err := <-failed:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}
