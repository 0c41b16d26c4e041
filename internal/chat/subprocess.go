package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SubprocessChannel drives a local coding-assistant CLI (the default
// deployment target is the "claude" binary) as a conversational
// subprocess: one prompt per Send call, piping stdout back as the reply.
// Adapted from the teacher's llm.Claude backend. Every turn is a separate
// process invocation; the channel records the turns in History.
type SubprocessChannel struct {
	BinaryPath string
	Model      string
	WorkDir    string
	Args       []string

	mu      sync.Mutex
	history []Message
}

// NewSubprocessChannel resolves binaryPath (falling back to "claude" and
// then a small set of common install locations) the way
// llm.NewClaude/resolveBinaryPath does.
func NewSubprocessChannel(binaryPath, model, workDir string) *SubprocessChannel {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	return &SubprocessChannel{
		BinaryPath: resolveBinaryPath(binaryPath),
		Model:      model,
		WorkDir:    workDir,
	}
}

func resolveBinaryPath(binaryPath string) string {
	if filepath.IsAbs(binaryPath) {
		return binaryPath
	}
	if path, err := exec.LookPath(binaryPath); err == nil {
		return path
	}
	home, _ := os.UserHomeDir()
	for _, p := range []string{
		filepath.Join(home, ".claude", "local", "claude"),
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return binaryPath
}

func binaryNotFoundError(name string) error {
	return fmt.Errorf(`%s not found in PATH

add its install directory to PATH, or set chat.subprocess.binary in the
workspace config to an absolute path`, name)
}

// Send writes prompt as the non-interactive "-p" argument and captures
// stdout as the reply, one process invocation per turn. Only the current
// prompt is passed to the process; earlier turns are kept in History and
// are not re-sent.
func (c *SubprocessChannel) Send(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.history = append(c.history, Message{Role: RoleController, Text: prompt, At: time.Now()})
	c.mu.Unlock()

	args := c.buildArgs(prompt)
	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	cmd.Dir = c.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return "", binaryNotFoundError(c.BinaryPath)
		}
		return "", fmt.Errorf("chat: subprocess %s: %w (stderr: %s)", c.BinaryPath, err, stderr.String())
	}

	reply := stdout.String()
	c.mu.Lock()
	c.history = append(c.history, Message{Role: RoleAssistant, Text: reply, At: time.Now()})
	c.mu.Unlock()
	return reply, nil
}

func (c *SubprocessChannel) buildArgs(prompt string) []string {
	var args []string
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	args = append(args, "-p", prompt, "--output-format", "text")
	args = append(args, c.Args...)
	return args
}

func (c *SubprocessChannel) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *SubprocessChannel) Close() error { return nil }

var _ io.Closer = (*SubprocessChannel)(nil)
