package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/cron"
	"github.com/zivhm/yacb/internal/gateway"
	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/internal/memory"
	"github.com/zivhm/yacb/internal/router"
	"github.com/zivhm/yacb/internal/store"
)

const version = "0.3.0"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "yacb",
		Short:         "yacb - a personal chat assistant with tier routing and reminders",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.yacb/config.yaml)")

	root.AddCommand(
		newGatewayCmd(),
		newChatCmd(),
		newCronCmd(),
		newOnboardCmd(),
		newStatusCmd(),
		newServiceCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprint(cmd.OutOrStdout(), GetVersionInfo().String())
			},
		},
	)
	return root
}

// loadConfig reads and validates the config, applying the log level
func loadConfig(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'yacb onboard' first)", err)
	}
	result := cfg.Validate()
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠️  %s\n", warn)
	}
	if !result.IsValid() {
		for _, e := range result.Errors {
			fmt.Fprintf(w, "❌ %s\n", e)
		}
		return nil, fmt.Errorf("invalid config: %d error(s)", len(result.Errors))
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "gateway",
		Aliases: []string{"run", "start"},
		Short:   "Run the bot with every enabled channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			gw, err := gateway.New(cfg, gateway.Options{Telegram: true, Discord: true})
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return gw.Run(ctx)
		},
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			// the TUI owns the terminal, so logs go to a file
			logPath := filepath.Join(cfg.WorkspacePath(), "yacb.log")
			if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
				return err
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logFile.Close()
			logger.GetDefaultLogger().SetOutput(logFile)

			gw, err := gateway.New(cfg, gateway.Options{Console: true})
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			gw.Console().OnClose(cancel)
			return gw.Run(ctx)
		},
	}
}

func newCronCmd() *cobra.Command {
	cronCmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect scheduled jobs (stop the gateway before editing)",
	}

	cronCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd.Context(), func(svc *cron.Service) error {
				fmt.Fprint(cmd.OutOrStdout(), formatJobs(svc.List()))
				return nil
			})
		},
	})

	cronCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd.Context(), func(svc *cron.Service) error {
				if !svc.Remove(args[0]) {
					return fmt.Errorf("%w: %s", cron.ErrJobNotFound, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
				return nil
			})
		},
	})
	return cronCmd
}

// withJobs opens the store and loads the persisted jobs without arming timers
func withJobs(ctx context.Context, fn func(svc *cron.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	svc := cron.NewService(db, nil)
	if err := svc.Load(ctx); err != nil {
		return err
	}
	return fn(svc)
}

func formatJobs(jobs []*cron.Job) string {
	if len(jobs) == 0 {
		return "No scheduled jobs.\n"
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })

	var b strings.Builder
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "[%s] %s\n", state, j.String())
		if j.State.LastStatus != "" {
			fmt.Fprintf(&b, "    last: %s %s\n", j.State.LastStatus, j.State.LastError)
		}
	}
	return b.String()
}

func newOnboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Write the default config and workspace files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(configPath, cmd.OutOrStdout())
		},
	}
}

// runOnboard writes a default config unless one exists, then seeds the
// workspace with BOOTSTRAP.md so the first chat runs onboarding
func runOnboard(path string, w io.Writer) error {
	if path == "" {
		path = config.DefaultPath()
	}

	var cfg *config.Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg = config.Default()
		written, err := config.Save(cfg, path)
		if err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(w, "✅ Config written to %s\n", written)
	} else {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		fmt.Fprintf(w, "Config already exists at %s\n", path)
	}

	workspace := cfg.WorkspacePath()
	if err := memory.InitWorkspace(workspace, true); err != nil {
		return err
	}
	fmt.Fprintf(w, "✅ Workspace ready at %s\n", workspace)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Add a provider API key to %s (or export ANTHROPIC_API_KEY)\n", path)
	fmt.Fprintln(w, "  2. Run 'yacb chat' to talk in the terminal, or enable Telegram and run 'yacb gateway'")
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Validate the config and show the model table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), statusReport(cfg))
			if !cfg.Validate().IsValid() {
				return fmt.Errorf("config has errors")
			}
			return nil
		},
	}
}

func statusReport(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "yacb v%s\n", version)
	if cfg.Path() != "" {
		fmt.Fprintf(&b, "Config:    %s\n", cfg.Path())
	}
	fmt.Fprintf(&b, "Workspace: %s\n", cfg.WorkspacePath())
	fmt.Fprintf(&b, "Database:  %s\n\n", cfg.DBPath())

	fmt.Fprintf(&b, "Default model: %s\n", cfg.Agent.Model)
	b.WriteString(router.New(cfg.TierRouter, cfg.Agent.Model).Status())
	b.WriteString("\n\nProviders:\n")
	for _, name := range []string{"anthropic", "openai", "openrouter", "opencode", "deepseek", "gemini"} {
		pc, _ := cfg.Providers.Get(name)
		mark := "-"
		if pc.APIKey != "" {
			mark = "✓"
		}
		fmt.Fprintf(&b, "  %s %s\n", mark, name)
	}

	b.WriteString("\nChannels:\n")
	fmt.Fprintf(&b, "  telegram: %s\n", enabled(cfg.Channels.Telegram.Enabled))
	fmt.Fprintf(&b, "  discord:  %s\n", enabled(cfg.Channels.Discord.Enabled))
	b.WriteString("  console:  available via 'yacb chat'\n")
	fmt.Fprintf(&b, "Heartbeat: %s\n", enabled(cfg.Heartbeat.Enabled))

	result := cfg.Validate()
	if len(result.Errors)+len(result.Warnings) > 0 {
		b.WriteString("\n")
	}
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "❌ %s\n", e)
	}
	for _, warn := range result.Warnings {
		fmt.Fprintf(&b, "⚠️  %s\n", warn)
	}
	if result.IsValid() {
		b.WriteString("\n✅ Config is valid\n")
	}
	return b.String()
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
