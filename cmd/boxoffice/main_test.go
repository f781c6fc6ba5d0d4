package main

import (
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/app"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]log.Level{
		"":      log.InfoLevel,
		"debug": log.DebugLevel,
		"warn":  log.WarnLevel,
		"loud":  log.InfoLevel,
	}
	for raw, want := range cases {
		if got := logLevel(raw); got != want {
			t.Fatalf("logLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	t.Setenv("BOXOFFICE_LOG_LEVEL", "error")
	setupLogger()
	if log.GetLevel() != log.ErrorLevel {
		t.Fatalf("expected error level, got %v", log.GetLevel())
	}
}

func TestStartupFields(t *testing.T) {
	cfg := app.DefaultConfig()
	cfg.StorageDriver = app.StorageDriverPostgres
	cfg.GatewayDriver = app.GatewayDriverHTTP

	fields := startupFields(cfg)
	if fields["gateway"] != app.GatewayDriverHTTP {
		t.Fatalf("gateway = %v, want %q", fields["gateway"], app.GatewayDriverHTTP)
	}
	if fields["storage"] != app.StorageDriverPostgres {
		t.Fatalf("storage = %v, want %q", fields["storage"], app.StorageDriverPostgres)
	}
	if fields["http_addr"] != cfg.HTTPAddr {
		t.Fatalf("http_addr = %v, want %q", fields["http_addr"], cfg.HTTPAddr)
	}
}
