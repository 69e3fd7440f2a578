package cli

import (
	"fmt"
	"io"
	"strconv"

	"exam-attempt-service/internal/domain"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewRescoreCmd recomputes stored attempts and reports mismatches.
func NewRescoreCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore <attempt-id>...",
		Short: "Recompute completed attempts and compare with the stored score",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			rt, err := buildRuntime(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			reports := make([]domain.RescoreReport, 0, len(args))
			for _, attemptID := range args {
				report, err := rt.service.Rescore(cmd.Context(), attemptID)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			}
			if mismatches := renderRescore(cmd.OutOrStdout(), reports); mismatches > 0 {
				return fmt.Errorf("%d attempt(s) do not match their stored score", mismatches)
			}
			return nil
		},
	}
}

func renderRescore(w io.Writer, reports []domain.RescoreReport) int {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Attempt", "Stored", "Recomputed", "Points", "Passed", "Status"})

	mismatches := 0
	for _, r := range reports {
		status := color.GreenString("ok")
		if !r.Consistent {
			status = color.RedString("mismatch")
			mismatches++
		}
		table.Append([]string{
			r.AttemptID,
			strconv.Itoa(r.StoredScore),
			strconv.Itoa(r.Result.Score),
			fmt.Sprintf("%d/%d", r.Result.EarnedPoints, r.Result.TotalPoints),
			strconv.FormatBool(r.Result.Passed),
			status,
		})
	}
	table.Render()
	return mismatches
}
