package dns01

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeRecorderScript writes a tiny shell script that dumps its argv
// (one per line) to outPath, so Publish's exact argument vector can be
// asserted without a real zone-update integration.
func writeRecorderScript(t *testing.T, outPath string) string {
	t.Helper()
	script := "#!/bin/sh\nfor a in \"$@\"; do printf '%s\\n' \"$a\"; done > \"" + outPath + "\"\n"
	scriptPath := filepath.Join(t.TempDir(), "recorder.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		t.Fatalf("write recorder script: %v", err)
	}
	return scriptPath
}

func TestPublishArgvShape(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "argv.txt")
	cmd := writeRecorderScript(t, outPath)

	p := New(t.TempDir(), cmd, []string{"ns1.example.org", "ns2.example.org"}, 5*time.Second)
	records := []Record{
		{Domain: "_acme-challenge.example.org.", Value: "abc123"},
		{Domain: "_acme-challenge.www.example.org.", Value: "def456"},
	}

	if ok := p.Publish(context.Background(), records); !ok {
		t.Fatalf("Publish returned false, want true")
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read recorded argv: %v", err)
	}
	got := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	want := []string{
		"--remote-servers", "ns1.example.org", "ns2.example.org", "--",
		"_acme-challenge.example.org.", "abc123",
		"_acme-challenge.www.example.org.", "def456",
	}
	if len(got) != len(want) {
		t.Fatalf("argv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

// TestPublishValueStartingWithDash exercises the "--" terminator: a
// record value that looks like a flag must still be passed through as
// a positional argument, never parsed as an option by the zone-update
// command.
func TestPublishValueStartingWithDash(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "argv.txt")
	cmd := writeRecorderScript(t, outPath)

	p := New(t.TempDir(), cmd, nil, 5*time.Second)
	records := []Record{{Domain: "_acme-challenge.example.org.", Value: "-looks-like-a-flag"}}

	if ok := p.Publish(context.Background(), records); !ok {
		t.Fatalf("Publish returned false, want true")
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read recorded argv: %v", err)
	}
	got := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	want := []string{"--remote-servers", "--", "_acme-challenge.example.org.", "-looks-like-a-flag"}
	if len(got) != len(want) || got[len(got)-1] != "-looks-like-a-flag" {
		t.Fatalf("argv = %v, want last element %q", got, "-looks-like-a-flag")
	}
}

func TestPublishRejectsInvalidDomain(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "argv.txt")
	cmd := writeRecorderScript(t, outPath)

	p := New(t.TempDir(), cmd, nil, 5*time.Second)
	records := []Record{{Domain: "not a domain!!", Value: "x"}}

	if ok := p.Publish(context.Background(), records); ok {
		t.Fatalf("Publish returned true for an invalid domain")
	}
	if _, err := os.Stat(outPath); err == nil {
		t.Fatalf("zone-update command must not run when a domain fails validation")
	}
}

func TestPublishTimeout(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "slow.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\nsleep 2\n"), 0755); err != nil {
		t.Fatalf("write slow script: %v", err)
	}

	p := New(t.TempDir(), scriptPath, nil, 50*time.Millisecond)
	records := []Record{{Domain: "_acme-challenge.example.org.", Value: "x"}}

	if ok := p.Publish(context.Background(), records); ok {
		t.Fatalf("Publish returned true, want false on timeout")
	}
}

func TestPublishNoCommandConfigured(t *testing.T) {
	p := New(t.TempDir(), "", nil, time.Second)
	if ok := p.Publish(context.Background(), []Record{{Domain: "_acme-challenge.example.org.", Value: "x"}}); ok {
		t.Fatalf("Publish returned true with no command configured")
	}
}

func TestCheckCommandExecutable(t *testing.T) {
	if err := CheckCommandExecutable(""); err == nil {
		t.Fatalf("expected an error for an empty command")
	}
	if err := CheckCommandExecutable("a-command-that-certainly-does-not-exist-anywhere"); err == nil {
		t.Fatalf("expected an error for a nonexistent command")
	}
	// "sh" should resolve on any POSIX system the daemon runs on.
	if err := CheckCommandExecutable("sh"); err != nil {
		t.Fatalf("CheckCommandExecutable(sh): %v", err)
	}
}

func TestWriteChallenges(t *testing.T) {
	root := t.TempDir()
	p := New(root, "", nil, time.Second)
	records := []Record{{Domain: "example.org", Token: "tok-1", Value: "val-1"}}
	if err := p.WriteChallenges(records); err != nil {
		t.Fatalf("WriteChallenges: %v", err)
	}
}
