package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/events/nats"
)

// ErrNotAccepted is returned when the gate refused an action.
var ErrNotAccepted = errors.New("action not available in the current state")

func (r *runner) generateCommand() *cobra.Command {
	var (
		requirement string
		follow      bool
	)
	cmd := &cobra.Command{
		Use:   "generate <project-id> <requirement|functional|policy>",
		Short: "Trigger generation of a document if the pipeline allows it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docType, err := parseType(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			session, err := r.freshSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			accepted, err := session.Trigger(ctx, usecase.TriggerRequest{Type: docType, RequirementText: requirement})
			if err != nil {
				return err
			}
			if err := r.print(actionResult{Accepted: accepted, ViewModel: session.ViewModel()}); err != nil {
				return err
			}
			if !accepted {
				return fmt.Errorf("generate %s: %w", docType, ErrNotAccepted)
			}
			if follow {
				return r.watch(ctx, args[0], watchOptions{untilSettled: true})
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&requirement, "requirement", "r", "", "requirement text (requirement documents only)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "watch until generation settles")
	return cmd
}

func (r *runner) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id> <type> <document-id>",
		Short: "Delete a generated document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			docType, err := parseType(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			session, err := r.freshSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			removed, err := session.Remove(ctx, docType, args[2])
			if err != nil {
				return err
			}
			if err := r.print(actionResult{Accepted: removed, ViewModel: session.ViewModel()}); err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("remove %s %s: %w", docType, args[2], ErrNotAccepted)
			}
			return nil
		},
	}
}

func (r *runner) renderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render <project-id> <type> <document-id>",
		Short: "Download, decode and print a finished document as a styled grid",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			docType, err := parseType(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			session, err := r.freshSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			if !session.Open(docType, args[2]) {
				return fmt.Errorf("render %s %s: %w", docType, args[2], ErrNotAccepted)
			}
			doc, err := r.app.Viewer.Render(ctx, docType, args[2])
			if err != nil {
				return err
			}
			return r.print(doc)
		},
	}
}

func (r *runner) eventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events [project-id]",
		Short: "Print status-change events published on NATS",
		Long:  "Subscribes to status-change events of one project, or of all projects when no id is given. Requires NATS_URL.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.app.Events == nil {
				return errors.New("events: NATS_URL is not configured")
			}
			projectID := ""
			if len(args) == 1 {
				projectID = args[0]
			}
			return r.app.Events.SubscribeSnapshots(cmd.Context(), projectID, func(_ context.Context, event nats.SnapshotEvent) error {
				return r.print(event)
			})
		},
	}
}
