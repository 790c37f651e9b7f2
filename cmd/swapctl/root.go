package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"swappilot/internal/app"
	"swappilot/internal/config"
	"swappilot/pkg/logger"
	"swappilot/sdk/go/swappilot"
)

// options 是所有子命令共享的全局参数。
type options struct {
	configPath string
	server     string
	apiKey     string
	jsonOutput bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "swapctl",
		Short: "Find swap routes from natural-language requests",
		Long: `swapctl turns a plain-language swap request into a validated route.

Examples:
  swapctl path "swap 100 usdc for eth" --wallet 0xabc...
  swapctl path "swap 1 eth to dai with 1% slippage" --wallet 0xabc... --server http://localhost:8080
  swapctl job submit "swap 50 usdt to wbtc" --wallet 0xabc... --wait
  swapctl history 0xabc...
  swapctl tokens --chain 1`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("SWAPPILOT_CONFIG"), "Path to the configuration file")
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", os.Getenv("SWAPPILOT_SERVER"), "Base URL of a running swappilotd, runs locally when empty")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("SWAPPILOT_API_KEY"), "API key sent to swappilotd")
	root.PersistentFlags().BoolVarP(&opts.jsonOutput, "json", "j", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show per-stage diagnostics")

	root.AddCommand(
		newPathCmd(opts),
		newJobCmd(opts),
		newHistoryCmd(opts),
		newTokensCmd(opts),
	)
	return root
}

func (o *options) client() (*swappilot.Client, error) {
	if o.server == "" {
		return nil, fmt.Errorf("该命令需要 --server 指向运行中的 swappilotd")
	}
	client, err := swappilot.NewClient(o.server, nil)
	if err != nil {
		return nil, err
	}
	if o.apiKey != "" {
		client = client.WithAPIKey(o.apiKey)
	}
	return client, nil
}

func (o *options) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

// buildApp 在进程内装配流水线，日志只输出错误以免干扰终端。
func (o *options) buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	level := "error"
	if o.verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "text", OutputPaths: []string{"stderr"}}); err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

// withSpinner 在非 JSON 模式下显示进度。
func (o *options) withSpinner(w io.Writer, suffix string, fn func() error) error {
	if o.jsonOutput {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()
	return fn()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
