package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Init creates a new CODOR workspace in the current directory: the
// .codor/ dotdir, a default config.yaml, and an empty evidence tree.
// The task store itself is created lazily by store.Open on first use.
func Init(force bool) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	codorPath := filepath.Join(cwd, CodorDir)

	if _, err := os.Stat(codorPath); err == nil {
		if !force {
			return ErrWorkspaceExists
		}
		if err := os.RemoveAll(codorPath); err != nil {
			return fmt.Errorf("failed to remove existing workspace: %w", err)
		}
	}

	dirs := []string{
		codorPath,
		filepath.Join(codorPath, "evidence"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := writeFile(filepath.Join(codorPath, "config.yaml"), defaultConfig); err != nil {
		return err
	}

	fmt.Println("Initialized CODOR workspace in", codorPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit .codor/config.yaml (chat backend, validation policy, retries)")
	fmt.Println("  2. Run 'codor start-sprint <sprint-id>' to begin driving the assistant")
	fmt.Println("  3. Run 'codor status' to inspect in-flight tasks and attempts")

	return nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

const defaultConfig = `# CODOR workspace configuration
chat:
  backend: subprocess       # subprocess | api
  model: sonnet
  marker_prefix: "@codor"
  binary: claude            # path to the assistant CLI (subprocess backend only)
  max_tokens: 4096
  temperature: 1.0

sprint:
  max_retries: 5
  push_commit: false

idle:
  threshold_seconds: 600    # 0 disables idle nudges

evidence:
  retention: compress-after-N-days   # never-expire | compress-after-N-days | delete-after-N-days
  retention_days: 7

validation:
  linting:
    strategy: block-on-errors
  typeChecking:
    strategy: block-always
  compilation:
    strategy: block-always
`
