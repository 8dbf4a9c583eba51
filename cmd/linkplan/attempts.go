package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"linkplan.ai/internal/persistence/indexdb"
)

func attemptsCmd() *cobra.Command {
	var (
		limit int
		txID  string
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recorded transactions, the attempts of one transaction, or per strategy totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.IndexPath == "" {
				return fmt.Errorf("storage.index_path is not configured")
			}
			if _, err := os.Stat(cfg.Storage.IndexPath); err != nil {
				return err
			}
			idx, err := indexdb.OpenSQLite(cfg.Storage.IndexPath)
			if err != nil {
				return err
			}
			defer idx.Close()
			ctx := cmd.Context()

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			switch {
			case stats:
				rows, err := idx.StrategyStats(ctx)
				if err != nil {
					return err
				}
				tw.AppendHeader(table.Row{"Kind", "Strategy", "Attempts", "Succeeded"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Kind, r.Strategy, r.Total, r.Successes})
				}
			case txID != "":
				rows, err := idx.Attempts(ctx, txID)
				if err != nil {
					return err
				}
				tw.AppendHeader(table.Row{"#", "Kind", "Strategy", "Start", "Finish", "Size", "Radius", "OK", "Placed", "Error"})
				for i, a := range rows {
					tw.AppendRow(table.Row{i, a.Kind, a.Strategy, a.Start, a.Finish, ftoa(a.ConnectorSize), ftoa(a.Radius), a.Success, a.Placed, a.Error})
				}
			default:
				rows, err := idx.Recent(ctx, limit)
				if err != nil {
					return err
				}
				tw.AppendHeader(table.Row{"ID", "Started", "Label", "Outcome", "Attempts", "Error"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Label, r.Outcome, r.Attempts, r.Error})
				}
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of transactions to list")
	cmd.Flags().StringVar(&txID, "tx", "", "show the attempts of this transaction")
	cmd.Flags().BoolVar(&stats, "stats", false, "show attempt totals per kind and strategy")
	return cmd
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
