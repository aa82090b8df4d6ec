// Command bluecarbon 是碳信用钱包层的命令行入口。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"BlueCarbon-Chain/internal/config"
)

var (
	configPath  string
	networkFlag string
	backendFlag string

	current  *app
	dimColor = color.New(color.Faint)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bluecarbon",
		Short:         "Blue carbon credit wallet CLI",
		Long:          `bluecarbon connects a wallet to the Stacks blue carbon registry, reads balances and history, and tracks credit transactions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, networkFlag, backendFlag)
			if err != nil {
				return err
			}
			current = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if current != nil {
				return current.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.PathFromEnv(), "Path to the JSON configuration file")
	rootCmd.PersistentFlags().StringVarP(&networkFlag, "network", "n", "", "Network to use (testnet or mainnet), overrides the configured default")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Chain API backend (http or simulated)")

	rootCmd.AddCommand(
		newNetworksCmd(),
		newBalanceCmd(),
		newTxsCmd(),
		newTxStatusCmd(),
		newDeploymentsCmd(),
		newFaucetCmd(),
		newDemoCmd(),
	)
	return rootCmd
}

func printNetworkHeader(a *app) {
	cfg := a.resolver.Resolve(a.network)
	dimColor.Printf("Network: %s (%s)\n", cfg.Name, cfg.Network)
}
