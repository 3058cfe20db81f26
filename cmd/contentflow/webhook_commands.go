package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"contentflow/internal/api"
	"contentflow/internal/daemonrun"
)

const failureListLimit = 200

func newWebhooksCommand(ctx *commandContext) *cobra.Command {
	webhooksCmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect the webhook dead-letter log",
	}
	webhooksCmd.AddCommand(newWebhookFailuresCommand(ctx))
	webhooksCmd.AddCommand(newWebhookResolveCommand(ctx))
	return webhooksCmd
}

func newWebhookFailuresCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List rejected or failed webhook deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				failures, err := c.Store.ListWebhookFailures(cmd.Context(), all, failureListLimit)
				if err != nil {
					return err
				}
				items := api.FromWebhookFailures(failures)
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No webhook failures")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						stageLabel(item.Stage),
						dash(item.JobID),
						truncate(item.Reason, 60),
						item.CreatedAt,
						yesNo(item.Resolved),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Stage", "Job", "Reason", "Received", "Resolved"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved entries")
	return cmd
}

func newWebhookResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a dead-letter entry as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid failure id %q", args[0])
			}
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				if err := c.Store.ResolveWebhookFailure(cmd.Context(), id); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resolveOutput{ID: id, Resolved: true})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved webhook failure %d\n", id)
				return nil
			})
		},
	}
}
