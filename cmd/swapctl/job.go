package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"swappilot/sdk/go/swappilot"
)

func newJobCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect asynchronous swap-path jobs",
	}
	cmd.AddCommand(newJobSubmitCmd(opts), newJobGetCmd(opts))
	return cmd
}

func newJobSubmitCmd(opts *options) *cobra.Command {
	var (
		req  swappilot.SwapRequest
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "submit <request text>",
		Short: "Queue a swap-path request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			req.Text = strings.Join(args, " ")
			job, err := client.SubmitJob(cmd.Context(), req)
			if err != nil {
				return err
			}
			if wait {
				err = opts.withSpinner(cmd.ErrOrStderr(), "Waiting for job "+job.ID+"...", func() error {
					job, err = client.WaitJob(cmd.Context(), job.ID, 500*time.Millisecond)
					return err
				})
				if err != nil {
					return err
				}
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd.OutOrStdout(), job, opts.verbose)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Wallet, "wallet", "w", "", "Wallet address that will perform the swap (required)")
	cmd.Flags().StringVar(&req.ChainID, "chain", "", "Chain id, defaults to the configured default chain")
	cmd.Flags().StringVar(&req.ID, "id", "", "Job id used for idempotent submission")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the job reaches a terminal state")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func newJobGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd.OutOrStdout(), job, opts.verbose)
			return nil
		},
	}
}
