package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"BlueCarbon-Chain/internal/chainapi"
	"BlueCarbon-Chain/internal/network"
)

func newBalanceCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "balance <address>",
		Short: "Read the STX balance of an address",
		Long: `Read the STX balance of an address in micro-STX.

A balance that could not be read is shown as 0 and marked as a fallback;
it is never an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := current.client()
			if err != nil {
				return err
			}
			bal := client.GetBalance(cmd.Context(), strings.TrimSpace(args[0]))
			if done, err := writeStructured(os.Stdout, output, bal); done {
				return err
			}

			printNetworkHeader(current)
			fmt.Printf("Balance: %s micro-STX\n", bal.Amount)
			if bal.Fallback() {
				color.Yellow("Balance unavailable, showing fallback value: %s", bal.Err)
			}
			dimColor.Printf("As of %s\n", bal.AsOf.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

func newTxsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "txs <address>",
		Short: "List recent transactions of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := current.client()
			if err != nil {
				return err
			}
			list := client.GetTransactions(cmd.Context(), strings.TrimSpace(args[0]))
			if done, err := writeStructured(os.Stdout, output, list); done {
				return err
			}
			printNetworkHeader(current)
			printTransactions(list)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

func newTxStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx-status <tx-id>",
		Short: "Query the on-chain status of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := current.client()
			if err != nil {
				return err
			}
			id := chainapi.NormalizeTxID(args[0])
			res, err := client.GetTransactionStatus(cmd.Context(), id)
			if err != nil {
				return err
			}

			printNetworkHeader(current)
			fmt.Printf("Transaction: %s\n", id)
			fmt.Printf("Status:      %s\n", statusColor(res.Status).Sprint(res.Status))
			if res.BlockHeight > 0 {
				fmt.Printf("Block:       %d\n", res.BlockHeight)
			}
			if res.Confirmations > 0 {
				fmt.Printf("Confirmed:   %d blocks\n", res.Confirmations)
			}
			dimColor.Println(cfg.ExplorerTxURL(id))
			return nil
		},
	}
}

func newDeploymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deployments",
		Short: "Check which registry contracts are deployed on the current network",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := current.client()
			if err != nil {
				return err
			}
			dep := client.CheckContractDeployment(cmd.Context(), cfg.DeployedContracts())

			printNetworkHeader(current)
			found := make(map[string]bool, len(dep.Names))
			for _, name := range dep.Names {
				found[name] = true
			}
			for _, name := range network.ContractNames() {
				if found[string(name)] {
					color.Green("  ✓ %s", name)
				} else {
					color.Red("  ✗ %s", name)
				}
			}
			if !dep.Deployed {
				color.Yellow("No contracts are deployed on %s.", cfg.Name)
			}
			return nil
		},
	}
}
