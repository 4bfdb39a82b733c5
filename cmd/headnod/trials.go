package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var trialsCmd = &cobra.Command{
	Use:   "trials",
	Short: "Summarize recorded accuracy trials",
	RunE:  runTrials,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show extracted videos and training runs",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(trialsCmd)
	rootCmd.AddCommand(statsCmd)
}

func runTrials(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := st.Trials().Summary()
	if err != nil {
		return fmt.Errorf("summarize trials: %w", err)
	}
	if len(summary) == 0 {
		fmt.Println("No trials recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EXPECTED\tTRIALS\tCORRECT\tACCURACY\tAVG CONF\tCONFUSED WITH")
	fmt.Fprintln(w, "--------\t------\t-------\t--------\t--------\t-------------")

	var total, correct int
	for _, s := range summary {
		total += s.Total
		correct += s.Correct
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.3f\t%s\n",
			s.Expected, s.Total, s.Correct, s.Accuracy*100, s.AvgConfidence, confusions(s.Confusions))
	}
	fmt.Fprintf(w, "ALL\t%d\t%d\t%.1f%%\t\t\n", total, correct, 100*float64(correct)/float64(total))
	return w.Flush()
}

func confusions(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for k, n := range m {
		parts = append(parts, fmt.Sprintf("%s:%d", k, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.Videos().Counts()
	if err != nil {
		return fmt.Errorf("count videos: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tVIDEOS\tSEQUENCES\tFACE RATE")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\n", c.Category, c.Videos, c.Sequences, c.AvgDetectionRate*100)
	}
	w.Flush()

	runs, err := st.Runs().List(10)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSAMPLES\tEPOCHS\tVAL ACC\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%.3f\t%s\n",
			shortID(r.ID), r.Status, r.Samples, r.Epochs, r.MaxEpochs, r.ValAccuracy, r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
