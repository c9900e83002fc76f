package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ownedby/ownership-cli/internal/store"
)

var (
	tracesBrand string
	tracesLimit int
)

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "List recent execution traces",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.ListTraces(ctx, store.TraceFilter{Brand: tracesBrand, Limit: tracesLimit})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TRACE ID\tBRAND\tRESULT\tDURATION\tCREATED")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n",
				t.ID, t.Brand, t.FinalResultType, t.DurationMS,
				t.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var traceShowCmd = &cobra.Command{
	Use:   "show <trace-id>",
	Short: "Print one trace as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tr, err := st.GetTrace(ctx, args[0])
		if err != nil {
			return err
		}
		if tr == nil {
			return fmt.Errorf("trace %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tr)
	},
}

func init() {
	tracesCmd.Flags().StringVar(&tracesBrand, "brand", "", "filter by brand")
	tracesCmd.Flags().IntVar(&tracesLimit, "limit", 20, "maximum traces to list")
	tracesCmd.AddCommand(traceShowCmd)
	rootCmd.AddCommand(tracesCmd)
}
