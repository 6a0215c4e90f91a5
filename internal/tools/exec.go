package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ExecConfig holds security configuration for the exec tool
type ExecConfig struct {
	AllowedCommands []string // command names; empty allows any command not blocked below
	TimeoutSeconds  int
	WorkingDir      string
	// RestrictToWorkspace rejects commands that reference paths outside WorkingDir
	RestrictToWorkspace bool
}

const execOutputMax = 10000

// dangerousPatterns are blocked regardless of allowlist
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`(?i)\bsudo\s+(rm|chmod|chown|mkfs|dd|reboot|shutdown|halt|poweroff)\b`),
	regexp.MustCompile(`(?i)\bsu\s+-`),
	regexp.MustCompile(`(?i)\b(curl|wget)\b.*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)\bchmod\s+(777|[+]?[aou][+][rwx]s)`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	regexp.MustCompile(`(?i)\b(format|mkfs|diskpart)\b`),
	regexp.MustCompile(`(?i)\b(reboot|shutdown|halt|poweroff)\b`),
	regexp.MustCompile(`(?i)>[>&]?\s*/etc/`),
	regexp.MustCompile(`(?i)>[>&]?\s*/dev/sd`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
}

var envAssignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// validateExecCommand checks a command against the deny patterns and allowlist
func validateExecCommand(cmdStr string, allowedCommands []string) error {
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(cmdStr) {
			return errors.New("Command blocked by safety guard")
		}
	}

	cmdParts := strings.Fields(cmdStr)
	if len(cmdParts) == 0 {
		return errors.New("empty command")
	}
	if len(allowedCommands) == 0 {
		return nil
	}

	cmdName := cmdParts[0]
	for _, allowed := range allowedCommands {
		if cmdName == allowed || strings.HasPrefix(cmdName, allowed+"/") {
			return nil
		}
	}
	return fmt.Errorf("command '%s' is not in the allowed commands list", cmdName)
}

// referencesOutsidePath reports whether a command could touch files outside
// the workspace. Substitutions are rejected outright since they hide paths.
func referencesOutsidePath(cmdStr string) bool {
	if strings.Contains(cmdStr, "$(") || strings.Contains(cmdStr, "`") {
		return true
	}
	for _, token := range strings.Fields(cmdStr) {
		token = strings.Trim(token, `"'`)
		lower := strings.ToLower(token)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			continue
		}
		if envAssignRe.MatchString(token) {
			_, token, _ = strings.Cut(token, "=")
		}
		if token == "" {
			continue
		}
		normalized := strings.ReplaceAll(token, `\`, "/")
		switch {
		case strings.HasPrefix(normalized, "/"), strings.HasPrefix(normalized, "~/"):
			return true
		case normalized == "..", strings.HasPrefix(normalized, "../"):
			return true
		case strings.Contains(normalized, "/../"), strings.HasSuffix(normalized, "/.."):
			return true
		}
	}
	return false
}

// resolveWorkingDir keeps a requested directory inside the workspace
func resolveWorkingDir(workspace, requested string) (string, error) {
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("invalid workspace path: %w", err)
	}
	if requested == "" {
		return absWorkspace, nil
	}
	target := requested
	if !filepath.IsAbs(target) {
		target = filepath.Join(absWorkspace, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(absWorkspace, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("Working directory is outside workspace")
	}
	return target, nil
}

// formatExecOutput renders stdout, stderr and exit code in the shape the
// agent loop inspects for repeated failures
func formatExecOutput(stdout, stderr string, exitCode int) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if text := strings.TrimSpace(stderr); text != "" {
		parts = append(parts, "STDERR:\n"+text)
	}
	if exitCode != 0 {
		parts = append(parts, fmt.Sprintf("\nExit code: %d", exitCode))
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	result := strings.Join(parts, "\n")
	if len(result) > execOutputMax {
		result = result[:execOutputMax] + "\n... (truncated)"
	}
	return result
}

// NewExecTool creates the shell tool
func NewExecTool(cfg ExecConfig) *Func {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Func{
		Name:        "exec",
		Description: "Execute a shell command and return its output.",
		Parameters: []Parameter{
			{Name: "command", Type: "string", Description: "The shell command to execute", Required: true},
			{Name: "working_dir", Type: "string", Description: "Optional working directory"},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			cmdStr := StringParam(params, "command")
			if cmdStr == "" {
				return "", ArgErrorf("command is required")
			}

			if err := validateExecCommand(cmdStr, cfg.AllowedCommands); err != nil {
				return "Error: " + err.Error(), nil
			}

			dir := StringParam(params, "working_dir")
			if cfg.RestrictToWorkspace && cfg.WorkingDir != "" {
				resolved, err := resolveWorkingDir(cfg.WorkingDir, dir)
				if err != nil {
					return "Error: " + err.Error(), nil
				}
				if referencesOutsidePath(cmdStr) {
					return "Error: Command blocked by workspace restriction (outside path detected)", nil
				}
				dir = resolved
			} else if dir == "" {
				dir = cfg.WorkingDir
			}

			execCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(execCtx, "sh", "-c", cmdStr)
			cmd.Dir = dir
			cmd.WaitDelay = 2 * time.Second
			// Prevent interactive prompts (git credentials, ssh, apt)
			cmd.Env = append(os.Environ(),
				"GIT_TERMINAL_PROMPT=0",
				"GIT_ASKPASS=echo",
				"SSH_ASKPASS=echo",
				"DEBIAN_FRONTEND=noninteractive",
			)

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			err := cmd.Run()
			if execCtx.Err() == context.DeadlineExceeded {
				return fmt.Sprintf("Error: Command timed out after %ds", int(timeout.Seconds())), nil
			}

			exitCode := 0
			if err != nil {
				var exitErr *exec.ExitError
				if !errors.As(err, &exitErr) {
					return fmt.Sprintf("Error executing command: %v", err), nil
				}
				exitCode = exitErr.ExitCode()
			}

			log.Debug("exec %q exited %d", cmdStr, exitCode)
			return formatExecOutput(stdout.String(), stderr.String(), exitCode), nil
		},
	}
}
