package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/platform/auth/sessiontoken"
)

// Commands share package-level flag state, so these tests do not run in parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestTally_PrintsRanking(t *testing.T) {
	p := writeFile(t, "votes.txt", "# ballot 1\na>b>c\n\nb>a>c\na>c>b\n")

	out, err := execute(t, "tally", p, "--candidates", "a,b,c")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if !strings.Contains(out, "votes: 3\n") {
		t.Fatalf("expected vote count in output, got %q", out)
	}
	if !strings.Contains(out, "result: a>b>c\n") {
		t.Fatalf("expected ranking a>b>c, got %q", out)
	}
}

func TestTally_UnknownCandidate(t *testing.T) {
	p := writeFile(t, "votes.txt", "a>x\n")

	if _, err := execute(t, "tally", p, "--candidates", "a,b"); err == nil {
		t.Fatalf("expected error for vote naming an unknown candidate")
	}
}

func TestMintSession_ParsesBack(t *testing.T) {
	key := strings.Repeat("k", sessiontoken.MinKeyLen)

	out, err := execute(t, "mint-session", "--persona", "p-1", "--key", key, "--session", "s-1", "--ttl", "10m")
	if err != nil {
		t.Fatalf("mint-session: %v", err)
	}

	codec, err := sessiontoken.NewCodec([]byte(key), time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	pid, sid, err := codec.Parse(strings.TrimSpace(out), time.Now().UTC())
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if pid != "p-1" || sid != "s-1" {
		t.Fatalf("got persona %q session %q", pid, sid)
	}
}

func TestMintSession_ShortKey(t *testing.T) {
	mintSession = ""
	if _, err := execute(t, "mint-session", "--persona", "p-1", "--key", "short"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestVerifyResult_RejectsGarbage(t *testing.T) {
	verifySecret = ""
	p := writeFile(t, "result.json", "not json")

	_, err := execute(t, "verify-result", p)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if errors.Is(err, errResultMismatch) {
		t.Fatalf("decode failure reported as mismatch")
	}
}
