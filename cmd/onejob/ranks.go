package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/models"
)

var ranksCmd = &cobra.Command{
	Use:   "ranks",
	Short: "Inspect and repair the active ordering",
}

var ranksCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that active ranks are exactly 1..N",
	RunE:  runRanksCheck,
}

var ranksRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Renumber active ranks to 1..N, keeping their order",
	RunE:  runRanksRepair,
}

func init() {
	ranksCmd.AddCommand(ranksCheckCmd, ranksRepairCmd)
}

func runRanksCheck(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/ranks/check")
	if err != nil {
		return err
	}
	var report models.DensityReport
	if err := json.Unmarshal(resp, &report); err != nil {
		return err
	}
	printReport(report)
	if !report.OK {
		return fmt.Errorf("active ranks are not dense; run 'onejob ranks repair'")
	}
	return nil
}

func runRanksRepair(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/ranks/repair", nil)
	if err != nil {
		return err
	}
	var res controlplane.RepairResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}
	if res.Changed == 0 {
		fmt.Println("Ranks already dense, nothing changed")
		return nil
	}
	fmt.Printf("Renumbered %d tasks\n", res.Changed)
	printReport(res.After)
	return nil
}

func printReport(r models.DensityReport) {
	if r.OK {
		fmt.Printf("OK: %d active tasks ranked 1..%d\n", r.Active, r.Active)
		return
	}
	fmt.Printf("VIOLATION: %d active tasks\n", r.Active)
	line := func(label string, v any, n int) {
		if n > 0 {
			fmt.Printf("  %-13s %v\n", label, v)
		}
	}
	line("missing", r.Missing, len(r.Missing))
	line("duplicate", r.Duplicates, len(r.Duplicates))
	line("out of range", r.OutOfRange, len(r.OutOfRange))
	line("unranked", strings.Join(r.Unranked, ", "), len(r.Unranked))
	line("done w/ rank", strings.Join(r.Stray, ", "), len(r.Stray))
}
