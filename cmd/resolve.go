package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ownedby/ownership-cli/internal/model"
)

var (
	resolveBarcode   string
	resolveProduct   string
	resolveContext   string
	resolveFollowUp  bool
	resolveEval      bool
	resolveWithTrace bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <brand>",
	Short: "Resolve the ultimate financial beneficiary of a brand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Pipeline.Resolve(ctx, model.ResearchRequest{
			Barcode:     resolveBarcode,
			Brand:       args[0],
			ProductName: resolveProduct,
			Context:     resolveContext,
			FollowUp:    resolveFollowUp,
			Evaluation:  resolveEval,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if resolveWithTrace {
			return enc.Encode(res)
		}
		return enc.Encode(res.Claim)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveBarcode, "barcode", "", "product barcode")
	resolveCmd.Flags().StringVar(&resolveProduct, "product", "", "product name")
	resolveCmd.Flags().StringVar(&resolveContext, "context", "", "free-text hints, e.g. \"pork rinds from Denmark\"")
	resolveCmd.Flags().BoolVar(&resolveFollowUp, "follow-up", false, "re-run research past cached negative results")
	resolveCmd.Flags().BoolVar(&resolveEval, "evaluation", false, "tag this run as part of an evaluation")
	resolveCmd.Flags().BoolVar(&resolveWithTrace, "trace", false, "include the full execution trace in the output")
	rootCmd.AddCommand(resolveCmd)
}
