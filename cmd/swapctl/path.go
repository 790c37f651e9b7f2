package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"swappilot/internal/swap"
	"swappilot/sdk/go/swappilot"
)

func newPathCmd(opts *options) *cobra.Command {
	var req swappilot.SwapRequest
	cmd := &cobra.Command{
		Use:   "path <request text>",
		Short: "Resolve a swap request into a validated route",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Text = strings.Join(args, " ")
			var (
				resp swappilot.SwapResponse
				err  error
			)
			err = opts.withSpinner(cmd.ErrOrStderr(), "Finding route...", func() error {
				resp, err = resolvePath(cmd.Context(), opts, req)
				return err
			})
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printResponse(cmd.OutOrStdout(), resp, opts.verbose)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Wallet, "wallet", "w", "", "Wallet address that will perform the swap (required)")
	cmd.Flags().StringVar(&req.ChainID, "chain", "", "Chain id, defaults to the configured default chain")
	cmd.Flags().StringVar(&req.ID, "id", "", "Request id used for idempotent retries")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

// resolvePath 优先调用远端服务，否则在本地执行流水线。
func resolvePath(ctx context.Context, opts *options, req swappilot.SwapRequest) (swappilot.SwapResponse, error) {
	if opts.server != "" {
		client, err := opts.client()
		if err != nil {
			return swappilot.SwapResponse{}, err
		}
		return client.SwapPath(ctx, req)
	}

	application, err := opts.buildApp(ctx)
	if err != nil {
		return swappilot.SwapResponse{}, err
	}
	defer application.Close()

	resp := application.Orchestrator.Execute(ctx, swap.Request{
		ID:      req.ID,
		Text:    req.Text,
		Wallet:  req.Wallet,
		ChainID: req.ChainID,
	})
	return toClientResponse(resp)
}

// toClientResponse 通过 JSON 转换为对外的响应结构。
func toClientResponse(resp swap.Response) (swappilot.SwapResponse, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return swappilot.SwapResponse{}, err
	}
	var out swappilot.SwapResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return swappilot.SwapResponse{}, err
	}
	return out, nil
}
