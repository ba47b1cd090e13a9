package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/auth/sessiontoken"
)

var (
	mintPersona string
	mintKey     string
	mintSession string
	mintTTL     time.Duration
)

var mintSessionCmd = &cobra.Command{
	Use:   "mint-session",
	Short: "Mint a session token for local development",
	Long: `Sign a session token for --persona with --key (SESSION_SIGNING_KEY).

The server only accepts the token while a session with the same id is active,
so this is useful against the memory backend or a seeded database.`,
	Args: cobra.NoArgs,
	RunE: runMintSession,
}

func init() {
	f := mintSessionCmd.Flags()
	f.StringVar(&mintPersona, "persona", "", "persona id")
	f.StringVar(&mintKey, "key", "", "session signing key (at least 32 bytes)")
	f.StringVar(&mintSession, "session", "", "session id (default: random)")
	f.DurationVar(&mintTTL, "ttl", time.Hour, "token lifetime")
	_ = mintSessionCmd.MarkFlagRequired("persona")
	_ = mintSessionCmd.MarkFlagRequired("key")
}

func runMintSession(cmd *cobra.Command, _ []string) error {
	if mintPersona == "" {
		return errors.New("--persona must not be empty")
	}
	codec, err := sessiontoken.NewCodec([]byte(mintKey), mintTTL)
	if err != nil {
		return err
	}
	sid := mintSession
	if sid == "" {
		sid = uuid.NewString()
	}
	token, err := codec.Mint(domain.PersonaID(mintPersona), domain.SessionID(sid), time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
