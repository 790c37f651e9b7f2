package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <wallet>",
		Short: "List recent jobs submitted for a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			jobs, err := client.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			bold := color.New(color.Bold)
			bold.Fprintf(out, "%-36s  %-10s  %-20s  %s\n", "JOB", "STATUS", "UPDATED", "REQUEST")
			for _, job := range jobs {
				updated := time.Unix(job.UpdatedAt, 0).Format(time.DateTime)
				fmt.Fprintf(out, "%-36s  %-10s  %-20s  %s\n", job.ID, statusLabel(job.Status), updated, job.Request.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to list")
	return cmd
}
