package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestSeedThenStats(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("LOG_LEVEL", "error")

	out, err := runCLI(t, "seed")
	if err != nil {
		t.Fatalf("seed: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "seeded ") {
		t.Fatalf("unexpected seed output %q", out)
	}

	out, err = runCLI(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v\n%s", err, out)
	}
	if !strings.Contains(out, "no tool calls recorded") {
		t.Fatalf("fresh database should have no audit rows:\n%s", out)
	}
}

func Test_writeToolStats_SortedByName(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	writeToolStats(cmd, map[string]int64{"lookup_order": 4, "create_return": 1, "check_eligibility": 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %q", buf.String())
	}
	for i, want := range []string{"check_eligibility", "create_return", "lookup_order"} {
		if f := strings.Fields(lines[i]); f[0] != want {
			t.Fatalf("line %d = %q; want tool %s", i, lines[i], want)
		}
	}
	if !strings.HasSuffix(lines[2], " 4") {
		t.Fatalf("count missing: %q", lines[2])
	}
}
