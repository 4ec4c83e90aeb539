package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wayli-app/lotus"
	"github.com/wayli-app/lotus/cache"
	"github.com/wayli-app/lotus/query"
	"github.com/wayli-app/lotus/runner"
)

var (
	queryVars    []string
	queryTimeout time.Duration
	queryNoCache bool
	queryRefresh bool
	queryLimit   int
	queryOffset  int
)

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run a read-only query",
	Long: `Run a read-only query with {{var}} placeholders.

Examples:
  lotus query "SELECT * FROM users LIMIT 10"
  lotus query "SELECT * FROM users WHERE name LIKE '%{{q}}%'" --var q=ann
  lotus query "SELECT * FROM orders" -r warehouse -o csv`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVar(&queryVars, "var", nil, "variable binding, name=value (repeatable)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "per-query timeout")
	queryCmd.Flags().BoolVar(&queryNoCache, "no-cache", false, "bypass the result cache")
	queryCmd.Flags().BoolVar(&queryRefresh, "refresh", false, "execute and overwrite the cached result")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "page size applied to the result rows")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "row offset applied with --limit")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	g, err := openGateway()
	if err != nil {
		return err
	}
	defer g.Close()

	values, err := parseVars(queryVars)
	if err != nil {
		return err
	}

	opts := lotus.RunOptions{Timeout: queryTimeout}
	if queryNoCache {
		opts.CacheMode = cache.ModeBypass
	}
	if queryRefresh {
		opts.CacheMode = cache.ModeRefresh
	}
	if queryLimit > 0 || queryOffset > 0 {
		opts.Window = &query.Window{Offset: queryOffset, Limit: queryLimit}
	}

	result, err := g.Run(context.Background(), query.Spec{
		Statement: args[0],
		DataRepo:  backendName,
		Values:    values,
	}, opts)
	if err != nil {
		return err
	}
	return printResult(result)
}

// parseVars splits name=value flags into the value map.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := cutVar(pair)
		if !ok {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", pair)
		}
		values[name] = value
	}
	return values, nil
}

func cutVar(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:], i > 0
		}
	}
	return "", "", false
}

func printResult(result *query.Result) error {
	switch outputFmt {
	case "csv":
		return runner.ExportCSV(os.Stdout, result)
	case "json":
		return runner.ExportJSON(os.Stdout, result)
	case "jsonl":
		return runner.ExportJSONL(os.Stdout, result)
	default:
		renderTable(result.Columns, stringRows(result))
		fmt.Fprintf(os.Stderr, "(%d rows, %.1fms, cache: %s)\n",
			result.NumRows, result.DurationMS, result.CacheStatus)
		return nil
	}
}

func stringRows(result *query.Result) [][]string {
	rows := make([][]string, len(result.Rows))
	for i, row := range result.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cellString(v)
		}
		rows[i] = cells
	}
	return rows
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func renderTable(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	if len(headers) > 0 {
		table.SetHeader(headers)
	}
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
