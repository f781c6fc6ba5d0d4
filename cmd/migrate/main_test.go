package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestParseOptions(t *testing.T) {
	t.Setenv(dsnEnv, "")

	opts, err := parseOptions([]string{"-direction=DOWN", "-steps=2", "-dsn=postgres://localhost/boxoffice"})
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.direction != "down" || opts.steps != 2 || opts.dsn != "postgres://localhost/boxoffice" {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := parseOptions([]string{"-direction=sideways", "-dsn=x"}); err == nil {
		t.Fatal("expected error for unsupported direction")
	}
	if _, err := parseOptions([]string{"-direction=status"}); err == nil {
		t.Fatal("expected error without dsn")
	}
	if _, err := parseOptions([]string{"-unknown"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestParseOptions_DSNFromEnv(t *testing.T) {
	t.Setenv(dsnEnv, " postgres://env/boxoffice ")

	opts, err := parseOptions(nil)
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.direction != "up" || opts.dsn != "postgres://env/boxoffice" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestRun_StatusUpDown(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BOXOFFICE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("BOXOFFICE_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, direction := range []string{"status", "up", "down", "up"} {
		var out bytes.Buffer
		if err := run(ctx, options{direction: direction, dsn: dsn}, &out); err != nil {
			t.Fatalf("%s: %v", direction, err)
		}
		if !strings.HasPrefix(out.String(), "migrate "+direction+" ok") {
			t.Fatalf("%s: unexpected output %q", direction, out.String())
		}
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
