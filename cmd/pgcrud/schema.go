package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/edgeflare/pgcrud/pkg/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [table]",
	Short: "Print the model endpoints resolve against",
	Long: `Prints tables with their columns, keys and relations as JSON: the tables
declared in the config, or the introspected PostgreSQL model.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model := staticModel(cfg)
		if model == nil {
			be, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer be.close()
			model = be.source.Snapshot()
		}

		var name string
		if len(args) > 0 {
			name = args[0]
		}
		return printModel(cmd.OutOrStdout(), model, name)
	},
}

// printModel writes the tables of model in key order, or only the named
// table.
func printModel(w io.Writer, model schema.Tables, name string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if name != "" {
		t, ok := model.Lookup(name)
		if !ok {
			return fmt.Errorf("table %q not found", name)
		}
		return enc.Encode(t)
	}

	tables := make([]schema.Table, 0, len(model))
	for _, k := range model.Keys() {
		tables = append(tables, model[k])
	}
	return enc.Encode(tables)
}
