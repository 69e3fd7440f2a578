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

// NewStatsCmd prints pass/fail statistics for an exam.
func NewStatsCmd(configPath *string) *cobra.Command {
	var participants []string
	cmd := &cobra.Command{
		Use:   "stats <exam-id>",
		Short: "Show attempt statistics for an exam",
		Args:  cobra.ExactArgs(1),
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

			stats, err := rt.service.ExamStats(cmd.Context(), args[0], participants)
			if err != nil {
				return err
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&participants, "participant", nil, "restrict to these participant ids (repeatable)")
	return cmd
}

func renderStats(w io.Writer, stats domain.ExamStats) {
	title := color.New(color.FgYellow, color.Bold)
	title.Fprintf(w, "\nExam %s\n", stats.ExamID)

	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Participants", "Completed", "In progress", "Passed", "Pass rate", "Average", "Best"})
	summary.Append([]string{
		strconv.Itoa(stats.Participants),
		strconv.Itoa(stats.CompletedAttempts),
		strconv.Itoa(stats.InProgressAttempts),
		strconv.Itoa(stats.PassedParticipants),
		fmt.Sprintf("%.2f%%", stats.PassRate),
		fmt.Sprintf("%.2f", stats.AverageScore),
		strconv.Itoa(stats.BestScore),
	})
	summary.Render()

	if len(stats.ByParticipant) == 0 {
		color.New(color.FgCyan).Fprintln(w, "No attempts yet")
		return
	}

	title.Fprintln(w, "\nBy participant")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Participant", "Completed", "In progress", "Best", "Last", "Passed"})
	for _, p := range stats.ByParticipant {
		passed := color.RedString("no")
		if p.Passed {
			passed = color.GreenString("yes")
		}
		table.Append([]string{
			p.ParticipantID,
			strconv.Itoa(p.CompletedAttempts),
			strconv.Itoa(p.InProgress),
			strconv.Itoa(p.BestScore),
			strconv.Itoa(p.LastScore),
			passed,
		})
	}
	table.Render()
}
