package memory

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templatesFS embed.FS

// Template returns the bundled starter content for a workspace file
func Template(name string) string {
	data, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return ""
	}
	return string(data)
}

// InitWorkspace creates the workspace directory and starter files. Existing
// files are never overwritten. With bootstrap set, BOOTSTRAP.md is written
// too so the first chat runs onboarding.
func InitWorkspace(workspacePath string, bootstrap bool) error {
	if err := os.MkdirAll(filepath.Join(workspacePath, "memory", "daily"), 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	files := []string{IdentityFile, SoulFile, UserFile, HeartbeatFile}
	if bootstrap {
		files = append(files, BootstrapFile)
	}
	for _, name := range files {
		if err := writeIfMissing(filepath.Join(workspacePath, name), Template(name)); err != nil {
			return err
		}
	}
	return writeIfMissing(filepath.Join(workspacePath, "memory", longTermFile), Template(longTermFile))
}

func writeIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
