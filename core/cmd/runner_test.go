package cmd

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"

	coreconfig "github.com/m3rciful/privybot/core/config"
)

type runFunc func(ctx context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunRequiresBootstrap(t *testing.T) {
	if err := Run(Options{}); err == nil {
		t.Fatal("expected error without Bootstrap")
	}
}

func TestRunPrefersFlagOverEnv(t *testing.T) {
	t.Setenv("PRIVYBOT_CONFIG", "/from/env.yaml")
	var loaded string
	shutdown := 0
	err := Run(Options{
		ConfigPath:   "/from/flag.yaml",
		ConfigEnvVar: "PRIVYBOT_CONFIG",
		LoadConfig: func(path string) (*coreconfig.Config, error) {
			loaded = path
			return &coreconfig.Config{}, nil
		},
		Bootstrap: func(context.Context, *coreconfig.Config) (App, error) {
			return runFunc(func(context.Context) error { return nil }), nil
		},
		ShutdownLogger: func() error { shutdown++; return nil },
		Signals:        []os.Signal{syscall.SIGUSR1},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if loaded != "/from/flag.yaml" || shutdown != 1 {
		t.Fatalf("loaded %q, shutdown called %d times", loaded, shutdown)
	}
}

func TestRunUsesEnvPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/from/env.yaml")
	var loaded string
	_ = Run(Options{
		LoadConfig: func(path string) (*coreconfig.Config, error) {
			loaded = path
			return nil, errors.New("stop")
		},
		Bootstrap: func(context.Context, *coreconfig.Config) (App, error) { return nil, nil },
	})
	if loaded != "/from/env.yaml" {
		t.Fatalf("loaded %q", loaded)
	}
}

func TestRunWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	load := func(string) (*coreconfig.Config, error) { return &coreconfig.Config{}, nil }

	err := Run(Options{
		LoadConfig: load,
		Bootstrap:  func(context.Context, *coreconfig.Config) (App, error) { return nil, boom },
	})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bootstrap failed") {
		t.Fatalf("bootstrap error = %v", err)
	}

	err = Run(Options{
		LoadConfig: load,
		Bootstrap: func(context.Context, *coreconfig.Config) (App, error) {
			return runFunc(func(context.Context) error { return boom }), nil
		},
		ShutdownLogger: func() error { return nil },
	})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "cmd: run") {
		t.Fatalf("run error = %v", err)
	}
}
