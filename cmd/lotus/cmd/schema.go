package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wayli-app/lotus/schema"
)

var (
	tablesSchema       string
	tablesIncludeViews bool
)

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "List visible schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGateway()
		if err != nil {
			return err
		}
		defer g.Close()

		schemas, err := g.ListSchemas(context.Background(), backendName)
		if err != nil {
			return err
		}
		rows := make([][]string, len(schemas))
		for i, s := range schemas {
			rows[i] = []string{s}
		}
		renderTable([]string{"schema"}, rows)
		return nil
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List visible tables",
	Long: `List tables visible under the configured rules.

Examples:
  lotus tables
  lotus tables --schema reporting --views`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGateway()
		if err != nil {
			return err
		}
		defer g.Close()

		tables, err := g.ListTables(context.Background(), backendName, schema.ListOptions{
			Schema:       tablesSchema,
			IncludeViews: tablesIncludeViews,
		})
		if err != nil {
			return err
		}
		rows := make([][]string, len(tables))
		for i, t := range tables {
			rows[i] = []string{t.Schema, t.Name}
		}
		renderTable([]string{"schema", "table"}, rows)
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe [table]",
	Short: "Show a table's visible columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGateway()
		if err != nil {
			return err
		}
		defer g.Close()

		ctx := context.Background()
		cols, err := g.GetTableSchema(ctx, backendName, args[0])
		if err != nil {
			return err
		}
		rows := make([][]string, len(cols))
		for i, c := range cols {
			def := ""
			if c.Default != nil {
				def = *c.Default
			}
			rows[i] = []string{
				c.Name, c.Type,
				strconv.FormatBool(c.Nullable),
				def,
				strconv.FormatBool(c.PrimaryKey),
				c.Visibility,
			}
		}
		renderTable([]string{"column", "type", "nullable", "default", "pk", "visibility"}, rows)

		if count, err := g.GetTableStats(ctx, backendName, args[0]); err == nil {
			fmt.Printf("rows: %d\n", count)
		}
		return nil
	},
}

func init() {
	tablesCmd.Flags().StringVar(&tablesSchema, "schema", "", "restrict to one schema")
	tablesCmd.Flags().BoolVar(&tablesIncludeViews, "views", false, "include views")
	rootCmd.AddCommand(schemasCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(describeCmd)
}
