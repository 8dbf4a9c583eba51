package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"linkplan.ai/internal/persistence/journal"
)

// journalCmd dumps journal records as JSON lines, oldest first.
func journalCmd() *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print journaled transactions as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			files, err := journal.Files(cfg.Storage.JournalDir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, path := range files {
				recs, err := journal.ReadFile(path)
				if err != nil {
					return err
				}
				for _, rec := range recs {
					if outcome != "" && rec.Outcome != outcome {
						continue
					}
					if err := enc.Encode(rec); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "only print transactions with this outcome (success, failure, dry_run)")
	return cmd
}
