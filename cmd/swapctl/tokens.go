package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swappilot/internal/intent"
	"swappilot/internal/swap"
)

func newTokensCmd(opts *options) *cobra.Command {
	var chain string
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List tokens known to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			registry, err := intent.LoadRegistry(cfg.Tokens.RegistryPath)
			if err != nil {
				return err
			}
			chains := registry.Chains()
			if chain != "" {
				chains = []string{chain}
			}
			listing := make(map[string][]swap.Token, len(chains))
			for _, id := range chains {
				listing[id] = registry.Tokens(id)
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, listing)
			}
			header := color.New(color.FgCyan, color.Bold)
			for _, id := range chains {
				header.Fprintf(out, "Chain %s\n", id)
				for _, token := range listing[id] {
					note := ""
					if token.Native {
						note = " (native)"
					}
					fmt.Fprintf(out, "  %-8s %s  decimals=%d%s\n", token.Symbol, token.Address, token.Decimals, note)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "Only list tokens of this chain id")
	return cmd
}
