package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"BlueCarbon-Chain/internal/network"
)

type networkView struct {
	Network   string            `json:"network" yaml:"network"`
	Name      string            `json:"name" yaml:"name"`
	API       string            `json:"api_base_url" yaml:"api_base_url"`
	ChainID   string            `json:"chain_id" yaml:"chain_id"`
	Explorer  string            `json:"explorer_url" yaml:"explorer_url"`
	Faucet    string            `json:"faucet_url,omitempty" yaml:"faucet_url,omitempty"`
	Contracts map[string]string `json:"contracts" yaml:"contracts"`
}

func viewNetwork(cfg network.Config) networkView {
	contracts := make(map[string]string, len(cfg.Contracts))
	for name, addr := range cfg.Contracts {
		contracts[string(name)] = addr
	}
	return networkView{
		Network:   string(cfg.Network),
		Name:      cfg.Name,
		API:       cfg.APIBaseURL,
		ChainID:   cfg.ChainID,
		Explorer:  cfg.ExplorerURL,
		Faucet:    cfg.FaucetURL,
		Contracts: contracts,
	}
}

func newNetworksCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "networks",
		Short: "Show the resolved network table",
		Long: `Show every supported network with its API endpoint, explorer and
contract addresses. An empty contract address means the contract is not
deployed on that network.

Examples:
  bluecarbon networks
  bluecarbon networks -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			views := make([]networkView, 0, len(network.All()))
			for _, n := range network.All() {
				views = append(views, viewNetwork(current.resolver.Resolve(n)))
			}
			if done, err := writeStructured(os.Stdout, output, views); done {
				return err
			}

			for i, v := range views {
				if i > 0 {
					fmt.Println()
				}
				marker := " "
				if network.Network(v.Network) == current.network {
					marker = "*"
				}
				color.New(color.Bold).Printf("%s %s (%s)\n", marker, v.Name, v.Network)

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "  API:\t%s\n", v.API)
				fmt.Fprintf(w, "  Chain ID:\t%s\n", v.ChainID)
				fmt.Fprintf(w, "  Explorer:\t%s\n", v.Explorer)
				if v.Faucet != "" {
					fmt.Fprintf(w, "  Faucet:\t%s\n", v.Faucet)
				}
				names := make([]string, 0, len(v.Contracts))
				for name := range v.Contracts {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					addr := v.Contracts[name]
					if addr == "" {
						addr = dimColor.Sprint("(not deployed)")
					}
					fmt.Fprintf(w, "  %s:\t%s\n", name, addr)
				}
				_ = w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	cmd.AddCommand(newExplorerCmd())
	return cmd
}

func newExplorerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explorer <tx-id>",
		Short: "Print the explorer link of a transaction on the current network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := current.resolver.Resolve(current.network)
			fmt.Println(cfg.ExplorerTxURL(args[0]))
			return nil
		},
	}
}
