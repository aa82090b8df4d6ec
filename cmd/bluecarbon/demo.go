package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"BlueCarbon-Chain/internal/chainapi"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/session"
	"BlueCarbon-Chain/internal/txn"
	"BlueCarbon-Chain/internal/wallet"
)

type demoOptions struct {
	account  string
	project  string
	amount   string
	interval time.Duration
}

func newDemoCmd() *cobra.Command {
	opts := demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a full wallet session against a simulated chain",
		Long: `Run a wallet session end to end against an in-process simulated chain:
connect a wallet, read the balance, register a project, mint credits and
poll until the transaction confirms, then switch to mainnet and check
contract deployment.

The ledger, event sink and metrics come from the configuration file, so the
demo also exercises the MySQL or Redis ledger when one is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.account, "account", "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG", "Simulated wallet account")
	cmd.Flags().StringVar(&opts.project, "project", "MANGROVE-001", "Project ID to mint credits for")
	cmd.Flags().StringVar(&opts.amount, "amount", "100", "Credits to mint")
	cmd.Flags().DurationVar(&opts.interval, "poll-interval", 500*time.Millisecond, "Status polling interval")
	return cmd
}

func runDemo(ctx context.Context, opts demoOptions) error {
	amount, ok := txn.ParseAmount(opts.amount)
	if !ok {
		return fmt.Errorf("invalid amount %q", opts.amount)
	}

	sim := current.simulated
	if sim == nil {
		sim = chainapi.NewSimulatedNetworks(current.resolver, chainapi.WithConfirmationDelay(2*opts.interval))
	}
	sim.Chain(network.Testnet).SetBalance(opts.account, "5000000")
	sim.Chain(network.Mainnet).SetBalance(opts.account, "42")

	ledger, err := current.openLedger(ctx)
	if err != nil {
		return err
	}

	provider := wallet.NewSimulatedProvider(wallet.ProviderLeather, sim, opts.account)
	store, err := session.NewStore(session.Config{
		Resolver:       current.resolver,
		Connector:      wallet.NewConnector(nil, provider),
		Clients:        sim.Client,
		Ledger:         ledger,
		InitialNetwork: network.Testnet,
		PollInterval:   opts.interval,
		MaxAttempts:    current.cfg.Polling.MaxAttempts,
		Sink:           current.sink,
		Metrics:        current.metrics,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	snapshots := make(chan session.Snapshot, 64)
	unsubscribe := store.Subscribe(func(s session.Snapshot) {
		dimColor.Printf("  [%d] %s %s\n", s.Seq, s.Status, s.Network)
		select {
		case snapshots <- s:
		default:
		}
	})
	defer unsubscribe()

	color.New(color.Bold).Println("Connecting wallet...")
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		return err
	}
	snap := store.Snapshot()
	if snap.Status != session.StatusConnected {
		return fmt.Errorf("connect failed: %s", snap.Error)
	}
	color.Green("Connected %s via %s", snap.Account, snap.Provider)
	if snap.Balance != nil {
		fmt.Printf("Balance: %s micro-STX\n", snap.Balance.Amount)
	}

	color.New(color.Bold).Println("Registering project...")
	receipt, err := store.RegisterProject(ctx, txn.ProjectRegistration{
		ProjectID:   opts.project,
		Name:        "Mangrove Restoration",
		ProjectType: "mangrove",
		Location:    "Sundarbans",
	})
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s in %s\n", receipt.ProjectID, shortID(receipt.TxID))

	color.New(color.Bold).Println("Minting credits...")
	tx, err := store.SubmitTransaction(ctx, txn.KindMint, txn.MintPayload{
		ProjectID:   opts.project,
		ProjectName: "Mangrove Restoration",
		ProjectType: "mangrove",
		Location:    "Sundarbans",
		Amount:      amount,
		Owner:       opts.account,
	})
	if err != nil {
		return err
	}
	if tx.Status == txn.StatusFailed {
		return fmt.Errorf("mint failed: %s", tx.Error)
	}
	fmt.Printf("Submitted %s (token %s)\n", tx.Ref(), tx.TokenID)

	final, err := waitTerminal(ctx, store, snapshots, tx.LocalID)
	if err != nil {
		return err
	}
	fmt.Printf("Transaction %s: %s\n", shortID(final.Ref()), statusColor(final.Status).Sprint(final.Status))
	dimColor.Println(store.NetworkConfig().ExplorerTxURL(final.Ref()))

	printTransactions(store.History(ctx))

	color.New(color.Bold).Println("Switching to mainnet...")
	if err := store.SwitchNetwork(ctx, network.Mainnet); err != nil {
		return err
	}
	snap = store.Snapshot()
	if snap.Balance != nil {
		fmt.Printf("Mainnet balance: %s micro-STX\n", snap.Balance.Amount)
	}
	if dep := store.CheckDeployment(ctx); !dep.Deployed {
		color.Yellow("Registry contracts are not deployed on %s.", store.NetworkConfig().Name)
	}

	if _, err := store.RequestFaucet(ctx); err != nil {
		dimColor.Printf("Faucet: %v\n", err)
	}

	store.Disconnect()
	color.Green("Done.")
	return nil
}

// waitTerminal 等待交易在会话快照中进入终态或带有诊断信息。
func waitTerminal(ctx context.Context, store *session.Store, snapshots <-chan session.Snapshot, localID string) (*txn.Transaction, error) {
	check := func(s session.Snapshot) (*txn.Transaction, bool) {
		tx, ok := s.Transaction(localID)
		if !ok {
			return nil, false
		}
		return tx, tx.Status.Terminal() || tx.Diagnostic != txn.DiagnosticNone
	}
	if tx, done := check(store.Snapshot()); done {
		return tx, nil
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-snapshots:
		case <-ticker.C:
		}
		if tx, done := check(store.Snapshot()); done {
			return tx, nil
		}
	}
}
