package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/store"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect and maintain the knowledge base",
}

var kbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print knowledge base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.KBStats(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var kbMappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List curated ownership mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.ListMappings(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BRAND\tBENEFICIARY\tCOUNTRY\tSTRUCTURE")
		for _, m := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Brand, m.Beneficiary, m.Country, m.StructureType)
		}
		return w.Flush()
	},
}

var (
	mappingBeneficiary string
	mappingCountry     string
	mappingStructure   string
)

var kbAddMappingCmd = &cobra.Command{
	Use:   "add-mapping <brand>",
	Short: "Add or update a curated ownership mapping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		structure := model.StructureType(mappingStructure)
		if structure == "" {
			structure = model.StructureUnknown
		}
		return st.UpsertMapping(ctx, store.Mapping{
			Brand:         args[0],
			Beneficiary:   mappingBeneficiary,
			Country:       mappingCountry,
			StructureType: structure,
		})
	},
}

func init() {
	kbAddMappingCmd.Flags().StringVar(&mappingBeneficiary, "beneficiary", "", "ultimate financial beneficiary")
	kbAddMappingCmd.Flags().StringVar(&mappingCountry, "country", "", "beneficiary country")
	kbAddMappingCmd.Flags().StringVar(&mappingStructure, "structure", "", "ownership structure type")
	_ = kbAddMappingCmd.MarkFlagRequired("beneficiary")
	kbCmd.AddCommand(kbStatsCmd)
	kbCmd.AddCommand(kbMappingsCmd)
	kbCmd.AddCommand(kbAddMappingCmd)
	rootCmd.AddCommand(kbCmd)
}
