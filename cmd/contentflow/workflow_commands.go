package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"contentflow/internal/api"
	"contentflow/internal/daemonrun"
	"contentflow/internal/queue"
)

func newWorkflowCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAdmitCommand(ctx),
		newStatusCommand(ctx),
		newListCommand(ctx),
		newCancelCommand(ctx),
		newResetCommand(ctx),
	}
}

func newAdmitCommand(ctx *commandContext) *cobra.Command {
	var brand string
	var content string

	cmd := &cobra.Command{
		Use:   "admit",
		Short: "Admit a content item for a brand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				rec, err := c.Scheduler.Admit(cmd.Context(), brand, content)
				if err != nil {
					return err
				}
				resp := api.ActionResponse{WorkflowID: rec.ID, Status: string(rec.Status)}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Admitted workflow %s for %s (%s)\n", resp.WorkflowID, rec.Brand, resp.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "", "Brand the content belongs to")
	cmd.Flags().StringVar(&content, "content", "", "Content reference or script to render")
	_ = cmd.MarkFlagRequired("brand")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show one workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				item, err := api.NewWorkflowService(c.Store).Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, item)
				}
				out := cmd.OutOrStdout()
				p := newPalette(shouldColorize(out))
				for _, line := range p.section("Workflow " + item.WorkflowID) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, p.line("Brand", item.Brand, true))
				fmt.Fprintln(out, p.line("Status", p.status(item.Status), true))
				fmt.Fprintln(out, p.line("Stage", stageLabel(item.Stage), true))
				fmt.Fprintln(out, p.line("Content", dash(item.ContentRef), true))
				fmt.Fprintln(out, p.line("External job", dash(item.JobID), true))
				fmt.Fprintln(out, p.line("Result", dash(item.ResultURL), true))
				fmt.Fprintln(out, p.line("Attempts", formatAttempts(item.Attempts), true))
				fmt.Fprintln(out, p.line("Created", dash(item.CreatedAt), true))
				fmt.Fprintln(out, p.line("Stage entered", dash(item.StageEnteredAt), true))
				if item.Error != "" {
					fmt.Fprintln(out, p.line("Error", item.Error, false))
				}
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var brand string
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := api.ParseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				items, err := api.NewWorkflowService(c.Store).List(cmd.Context(), strings.TrimSpace(brand), parsed...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.WorkflowListResponse{Items: items})
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No workflows")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Brand", "Status", "Stage", "Job", "Created", "Error"},
					buildWorkflowRows(items, newPalette(shouldColorize(out))),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "", "Only list workflows for this brand")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a workflow and stop its current vendor job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				rec, err := c.Engine.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printAction(ctx, cmd, rec, "Cancelled")
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Return a completed or failed workflow to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				rec, err := c.Engine.Reset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printAction(ctx, cmd, rec, "Reset")
			})
		},
	}
}

func printAction(ctx *commandContext, cmd *cobra.Command, rec *queue.Record, verb string) error {
	resp := api.ActionResponse{WorkflowID: rec.ID, Status: string(rec.Status)}
	if ctx.jsonOutput() {
		return writeJSON(cmd, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s workflow %s (now %s)\n", verb, resp.WorkflowID, resp.Status)
	return nil
}

func buildWorkflowRows(items []api.Workflow, p palette) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.WorkflowID,
			item.Brand,
			p.status(item.Status),
			stageLabel(item.Stage),
			dash(item.JobID),
			dash(item.CreatedAt),
			dash(truncate(item.Error, 40)),
		})
	}
	return rows
}

func formatAttempts(attempts map[string]int) string {
	parts := make([]string, 0, len(queue.Stages))
	for _, st := range queue.Stages {
		parts = append(parts, fmt.Sprintf("%s=%d", st, attempts[string(st)]))
	}
	return strings.Join(parts, " ")
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
