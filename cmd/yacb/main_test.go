package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/cron"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"gateway", "chat", "cron", "onboard", "status", "service", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("Expected subcommand %q to be registered", name)
		}
	}
	if cmd, _, _ := root.Find([]string{"start"}); cmd.Name() != "gateway" {
		t.Errorf("Expected 'start' to alias gateway, got %s", cmd.Name())
	}
}

func TestRunOnboard(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, ".yacb", "config.yaml")

	var out bytes.Buffer
	if err := runOnboard(path, &out); err != nil {
		t.Fatalf("runOnboard: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected config file: %v", err)
	}
	for _, name := range []string{"IDENTITY.md", "BOOTSTRAP.md", "HEARTBEAT.md"} {
		if _, err := os.Stat(filepath.Join(home, ".yacb", "workspace", name)); err != nil {
			t.Errorf("Expected %s in workspace: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "Config written") {
		t.Errorf("Expected config notice, got %q", out.String())
	}

	// second run keeps the existing file
	out.Reset()
	if err := runOnboard(path, &out); err != nil {
		t.Fatalf("second runOnboard: %v", err)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Errorf("Expected existing-config notice, got %q", out.String())
	}
}

func TestStatusReport(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Workspace = "/tmp/yacb-ws"
	cfg.Providers.Anthropic.APIKey = "sk-test"

	report := statusReport(cfg)
	for _, want := range []string{
		"Workspace: /tmp/yacb-ws",
		"Database:  /tmp/yacb-ws/yacb.db",
		"Tier router:",
		"✓ anthropic",
		"- openai",
		"telegram: disabled",
		"discord:  disabled",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("Expected report to contain %q, got:\n%s", want, report)
		}
	}
}

func TestFormatJobs(t *testing.T) {
	if got := formatJobs(nil); got != "No scheduled jobs.\n" {
		t.Errorf("got %q for no jobs", got)
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	jobs := []*cron.Job{
		{
			ID:        "b",
			Name:      "second",
			Enabled:   false,
			Schedule:  cron.Schedule{Kind: cron.KindEvery, Every: time.Hour},
			CreatedAt: now.Add(time.Minute),
		},
		{
			ID:        "a",
			Name:      "first",
			Enabled:   true,
			Schedule:  cron.Schedule{Kind: cron.KindAt, At: now.Add(time.Hour)},
			State:     cron.State{NextRunAt: now.Add(time.Hour), LastStatus: cron.StatusOK},
			CreatedAt: now,
		},
	}

	got := formatJobs(jobs)
	if !strings.HasPrefix(got, "[enabled] first (id: a, at, next: ") {
		t.Errorf("Expected oldest job first, got:\n%s", got)
	}
	if !strings.Contains(got, "    last: ok") {
		t.Errorf("Expected last run line, got:\n%s", got)
	}
	if !strings.Contains(got, "[disabled] second (id: b, every, next: never)") {
		t.Errorf("Expected disabled job, got:\n%s", got)
	}
}

func TestVersionInfo_String(t *testing.T) {
	v := &VersionInfo{Version: "1.2.3", GoVersion: "go1.24", Platform: "linux/amd64", BuildTime: "now", GitCommit: "abc"}
	s := v.String()
	if !strings.HasPrefix(s, "yacb v1.2.3\n") {
		t.Errorf("unexpected header: %q", s)
	}
	if !strings.Contains(s, "Features: (none enabled)") {
		t.Errorf("Expected empty feature line, got %q", s)
	}

	v.Features = []string{"telegram", "web"}
	if !strings.Contains(v.String(), "Features: telegram, web") {
		t.Errorf("Expected feature list, got %q", v.String())
	}
}

func TestDetectEnabledFeatures(t *testing.T) {
	if got := detectEnabledFeatures(filepath.Join(t.TempDir(), "missing.yaml")); len(got) != 0 {
		t.Errorf("Expected no features without a config, got %v", got)
	}

	cfg := config.Default()
	cfg.Heartbeat.Enabled = true
	path, err := config.Save(cfg, filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := strings.Join(detectEnabledFeatures(path), ",")
	if got != "tier-router,heartbeat" {
		t.Errorf("got features %q, want %q", got, "tier-router,heartbeat")
	}
}
