package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"
)

const serviceName = "yacb"

const serviceTemplate = `[Unit]
Description=yacb chat assistant
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=%s
ExecStart=%s gateway
Restart=on-failure
RestartSec=5s
Environment=HOME=%s

[Install]
WantedBy=default.target
`

// systemctl runs systemctl; tests swap it out
var systemctl = func(system bool, out io.Writer, args ...string) error {
	if !system {
		args = append([]string{"--user"}, args...)
	}
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

func generateServiceFile(username, execPath, homeDir string) string {
	return fmt.Sprintf(serviceTemplate, username, execPath, homeDir)
}

func systemServicePath() string {
	return "/etc/systemd/system/" + serviceName + ".service"
}

func userServicePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", serviceName+".service")
}

func servicePath(system bool) string {
	if system {
		return systemServicePath()
	}
	return userServicePath()
}

func newServiceCmd() *cobra.Command {
	var system bool

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd unit that runs 'yacb gateway'",
	}
	serviceCmd.PersistentFlags().BoolVarP(&system, "system", "s", false, "system-wide unit (requires root)")

	serviceCmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Write the unit file and reload systemd",
			RunE: func(cmd *cobra.Command, args []string) error {
				u, err := user.Current()
				if err != nil {
					return fmt.Errorf("failed to get current user: %w", err)
				}
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("failed to get executable path: %w", err)
				}
				exe, _ = filepath.Abs(exe)
				content := generateServiceFile(u.Username, exe, u.HomeDir)
				return installService(servicePath(system), content, system, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Stop the service and remove the unit file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return uninstallService(servicePath(system), system, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "enable",
			Short: "Start the service on boot",
			RunE: func(cmd *cobra.Command, args []string) error {
				return sudoHint(systemctl(system, cmd.OutOrStdout(), "enable", serviceName), system)
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Stop starting the service on boot",
			RunE: func(cmd *cobra.Command, args []string) error {
				return sudoHint(systemctl(system, cmd.OutOrStdout(), "disable", serviceName), system)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show systemd status",
			Run: func(cmd *cobra.Command, args []string) {
				// non-zero when stopped
				_ = systemctl(system, cmd.OutOrStdout(), "status", serviceName)
			},
		},
	)
	return serviceCmd
}

func installService(path, content string, system bool, w io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return sudoHint(fmt.Errorf("failed to write service file: %w", err), system)
	}
	fmt.Fprintf(w, "✅ Service file installed: %s\n", path)

	if err := systemctl(system, w, "daemon-reload"); err != nil {
		fmt.Fprintf(w, "⚠️ daemon-reload failed: %v\n", err)
	}

	prefix := "systemctl --user"
	if system {
		prefix = "sudo systemctl"
	}
	fmt.Fprintln(w, "\nTo enable and start:")
	fmt.Fprintf(w, "  %s enable %s\n", prefix, serviceName)
	fmt.Fprintf(w, "  %s start %s\n", prefix, serviceName)
	return nil
}

func uninstallService(path string, system bool, w io.Writer) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "⚠️ Service file not found (not installed?)")
		return nil
	}

	_ = systemctl(system, w, "stop", serviceName)
	_ = systemctl(system, w, "disable", serviceName)

	if err := os.Remove(path); err != nil {
		return sudoHint(fmt.Errorf("failed to remove service file: %w", err), system)
	}
	_ = systemctl(system, w, "daemon-reload")

	fmt.Fprintln(w, "✅ Service uninstalled")
	return nil
}

func sudoHint(err error, system bool) error {
	if err != nil && system && errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w (run with sudo for a system service)", err)
	}
	return err
}
