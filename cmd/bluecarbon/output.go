package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"BlueCarbon-Chain/internal/txn"
)

// writeStructured 以 json 或 yaml 输出 v。format 为空或 table 时返回 false。
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "", "table":
		return false, nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	default:
		return true, fmt.Errorf("unsupported output format %q (want table, json or yaml)", format)
	}
}

func statusColor(s txn.Status) *color.Color {
	switch s {
	case txn.StatusSuccess:
		return color.New(color.FgGreen)
	case txn.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func printTransactions(list []*txn.Transaction) {
	if len(list) == 0 {
		dimColor.Println("No transactions found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TX ID\tKIND\tSTATUS\tAMOUNT\tFROM\tTO\tCREATED")
	for _, tx := range list {
		created := "-"
		if !tx.CreatedAt.IsZero() {
			created = tx.CreatedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(tx.Ref()),
			tx.Kind,
			statusColor(tx.Status).Sprint(tx.Status),
			txn.AmountString(tx.Amount),
			dash(tx.From),
			dash(tx.To),
			created,
		)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) <= 18 {
		return id
	}
	return id[:10] + "..." + id[len(id)-6:]
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
