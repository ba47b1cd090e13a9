package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cde-ev/cdedb2-sub001/internal/platform/schulze"
)

var tallyCandidates []string

var tallyCmd = &cobra.Command{
	Use:   "tally <votes-file>",
	Short: "Compute the Schulze ranking of a list of votes",
	Long: `Read one vote per line (e.g. "a>b=c"), skipping blank lines and lines
starting with #, and print the Schulze ranking over --candidates.`,
	Args: cobra.ExactArgs(1),
	RunE: runTally,
}

func init() {
	tallyCmd.Flags().StringSliceVar(&tallyCandidates, "candidates", nil, "comma separated candidate shortnames")
	_ = tallyCmd.MarkFlagRequired("candidates")
}

func readVotes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var votes []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		votes = append(votes, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return votes, nil
}

func runTally(cmd *cobra.Command, args []string) error {
	votes, err := readVotes(args[0])
	if err != nil {
		return err
	}
	res, err := schulze.Tally(tallyCandidates, votes)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "votes: %d\n", len(votes))
	fmt.Fprintf(out, "result: %s\n", res.String())
	for i, tier := range res.Tiers {
		fmt.Fprintf(out, "%d. %s\n", i+1, strings.Join(tier, ", "))
	}
	return nil
}
