package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"linkplan.ai/internal/entity"
)

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the configured connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cat, err := cfg.Catalog()
			if err != nil {
				return err
			}
			renderCatalog(cat)
			return nil
		},
	}
}

func renderCatalog(cat *entity.Catalog) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Name", "Kind", "Tier", "Underground", "Max span", "Reach"})
	for _, c := range cat.All() {
		ug, span, reach := "", "", ""
		if c.Underground {
			ug = "yes"
		}
		if c.MaxSpan > 0 {
			span = itoa(c.MaxSpan)
		}
		if c.Reach > 0 {
			reach = ftoa(c.Reach)
		}
		tw.AppendRow(table.Row{c.Name, c.Kind.String(), c.Tier, ug, span, reach})
	}
	tw.Render()
}
