package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cde-ev/cdedb2-sub001/internal/app/assemblies"
)

var errResultMismatch = errors.New("result file does not verify")

var verifySecret string

var verifyResultCmd = &cobra.Command{
	Use:   "verify-result <file>",
	Short: "Recount a published ballot result file",
	Long: `Recount the votes in a result file and compare them with the stated result.

With --secret the vote cast with that attendee secret is looked up as well.
The command exits non-zero when the recount differs or the file is inconsistent.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyResult,
}

func init() {
	verifyResultCmd.Flags().StringVar(&verifySecret, "secret", "", "attendee secret to locate your own vote")
}

func runVerifyResult(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	v, err := assemblies.VerifyResult(raw, verifySecret)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recomputed: %s\n", v.Recomputed)
	for _, p := range v.Problems {
		fmt.Fprintf(out, "problem: %s\n", p)
	}
	if verifySecret != "" {
		if v.OwnVote != nil {
			fmt.Fprintf(out, "own vote: %s\n", *v.OwnVote)
		} else {
			fmt.Fprintln(out, "own vote: not found")
		}
	}
	if !v.Matches || len(v.Problems) > 0 {
		return errResultMismatch
	}
	fmt.Fprintln(out, "ok")
	return nil
}
