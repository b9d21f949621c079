package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
)

// AppBuilder wires the application lazily so that --help works without configuration.
// The caller owns the returned App.
type AppBuilder func(ctx context.Context) (*bootstrap.App, error)

type runner struct {
	build AppBuilder
	app   *bootstrap.App

	outMu sync.Mutex
	out   io.Writer
}

func NewRootCommand(build AppBuilder) *cobra.Command {
	r := &runner{build: build}

	root := &cobra.Command{
		Use:   "pipeline-watch",
		Short: "Watch and drive document generation for a project",
		Long: `Opens a project view against the generation service and prints a JSON view model
for every status change.

Examples:
  pipeline-watch watch p-42
  pipeline-watch generate p-42 requirement --requirement "Users sign in with email" --follow
  pipeline-watch remove p-42 functional fn-7
  pipeline-watch render p-42 policy pol-3
  pipeline-watch events p-42`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			r.out = cmd.OutOrStdout()
			app, err := r.build(cmd.Context())
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			r.app = app
			return nil
		},
	}

	root.AddCommand(
		r.watchCommand(),
		r.generateCommand(),
		r.removeCommand(),
		r.renderCommand(),
		r.eventsCommand(),
	)
	return root
}

func (r *runner) print(v any) error {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	return json.NewEncoder(r.out).Encode(v)
}

type actionResult struct {
	Accepted  bool              `json:"accepted"`
	ViewModel usecase.ViewModel `json:"view_model"`
}

// freshSession returns a non-polling controller gated on a just-fetched snapshot.
func (r *runner) freshSession(ctx context.Context, projectID string) (*usecase.PipelineController, error) {
	session, err := r.app.Pipelines.Session(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := session.Refresh(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func parseType(raw string) (domain.DocumentType, error) {
	docType, err := domain.ParseDocumentType(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%q is not one of requirement, functional, policy", raw)
	}
	return docType, nil
}
