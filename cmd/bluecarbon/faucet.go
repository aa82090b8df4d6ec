package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/wallet"
)

func newFaucetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "faucet <address>",
		Short: "Show the testnet faucet for an address",
		Long: `Show where to request free testnet STX for an address.

The faucet only exists on testnet; on mainnet the command fails with
FAUCET_UNAVAILABLE.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := current.resolver.Resolve(current.network)
			opener := wallet.NavigatorFunc(func(_ context.Context, url string) error {
				fmt.Printf("Open %s in your browser.\n", url)
				return nil
			})
			info, err := wallet.NewConnector(opener).RequestNetworkFaucet(cmd.Context(), cfg, strings.TrimSpace(args[0]))
			if err != nil {
				if xerrors.IsCode(err, wallet.CodeFaucetUnavailable) {
					color.Yellow("No faucet on %s. Switch to testnet with --network testnet.", cfg.Name)
				}
				return err
			}

			color.Green("%s", info.Description)
			fmt.Println("Requirements:")
			for _, r := range info.Requirements {
				fmt.Printf("  - %s\n", r)
			}
			return nil
		},
	}
}
