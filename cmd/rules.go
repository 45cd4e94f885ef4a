package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesDetectCmd)
	rootCmd.AddCommand(rulesCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the routing table and rule sets",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate every rule set the routing table references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := newRouter()
		if err != nil {
			return err
		}
		if err := router.CheckAll(); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, t := range router.Table().Types() {
			rs, err := router.SelectRuleSet(t)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%-12s %d rules\n", t, rs.Len())
		}
		return nil
	},
}

var rulesDetectCmd = &cobra.Command{
	Use:   "detect <product>...",
	Short: "Print the product type each path routes to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := newRouter()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, p := range args {
			t, err := router.Detect(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\n", t, p)
		}
		return nil
	},
}
