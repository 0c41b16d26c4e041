package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/codor-dev/codor/internal/chat"
	"github.com/codor-dev/codor/internal/commitgit"
	"github.com/codor-dev/codor/internal/config"
	"github.com/codor-dev/codor/internal/display"
	"github.com/codor-dev/codor/internal/evidence"
	"github.com/codor-dev/codor/internal/sprintctl"
	"github.com/codor-dev/codor/internal/store"
	"github.com/codor-dev/codor/internal/workspace"
)

// session bundles everything a subcommand needs: the loaded config, the
// open store and evidence handles, a ready-to-run Controller, and the
// workspace lock the caller must release.
type session struct {
	workspaceDir string
	cfg          *config.Config
	store        *store.Store
	evidence     *evidence.Store
	controller   *sprintctl.Controller
	disp         *display.Display
	lock         *workspace.Lock
}

// storeSession is the lightweight counterpart of session for commands
// that only need the task store — skip-task and stop-sprint write
// directly to the store without the chat/commit stack a Controller
// needs, and deliberately do not take the workspace lock: they are
// meant to run alongside another process's in-flight start-sprint.
type storeSession struct {
	workspaceDir string
	store        *store.Store
	disp         *display.Display
}

func (s *storeSession) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func openStoreSession() (*storeSession, error) {
	root, err := workspace.Find()
	if err != nil {
		return nil, err
	}
	root = config.WorkspaceRoot(root)

	s, err := store.Open(workspace.TasksDBPath(root))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	return &storeSession{
		workspaceDir: root,
		store:        s,
		disp:         display.NewWithOptions(noColor),
	}, nil
}

func (s *session) Close() {
	if s.lock != nil {
		s.lock.Release()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// openSession locates the workspace, loads config, and opens the store
// and evidence tree. lockRequired gates whether the caller needs
// exclusive access and a ready-to-run Controller (start-sprint,
// retry-task) or only a read-mostly view (status) that skips the lock
// and the chat channel entirely.
func openSession(lockRequired bool) (*session, error) {
	root, err := workspace.Find()
	if err != nil {
		return nil, err
	}
	root = config.WorkspaceRoot(root)

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(workspace.TasksDBPath(root))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	ev, err := evidence.New(workspace.EvidenceDir(root))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open evidence store: %w", err)
	}

	sess := &session{
		workspaceDir: root,
		cfg:          cfg,
		store:        s,
		evidence:     ev,
		disp:         display.NewWithOptions(noColor),
	}

	if !lockRequired {
		// Read-mostly commands (status) never call RunSprint, so they
		// skip the chat channel: a misconfigured/unset backend (no
		// ANTHROPIC_API_KEY, say) must not block inspecting state.
		return sess, nil
	}

	lock, err := workspace.AcquireLock(root)
	if err != nil {
		s.Close()
		return nil, err
	}
	sess.lock = lock

	channel, err := buildChannel(cfg, root)
	if err != nil {
		sess.Close()
		return nil, err
	}

	ctl := sprintctl.New(sprintctl.Config{
		Store:         s,
		Evidence:      ev,
		Channel:       channel,
		Commit:        commitgit.New(root, cfg.Sprint.PushCommit),
		Policy:        cfg.ValidationPolicy(),
		WorkDir:       root,
		MarkerPrefix:  cfg.Chat.MarkerPrefix,
		MaxRetries:    cfg.Sprint.MaxRetries,
		IdleThreshold: time.Duration(cfg.Idle.ThresholdSeconds) * time.Second,
		Notify:        displayNotifier{sess.disp},
	})
	sess.controller = ctl

	return sess, nil
}

func buildChannel(cfg *config.Config, workDir string) (chat.Channel, error) {
	switch cfg.Chat.Backend {
	case "api":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("chat.backend is %q but ANTHROPIC_API_KEY is not set", cfg.Chat.Backend)
		}
		return chat.NewAPIChannelFromAPIKey(apiKey, chat.APIOptions{
			Model:       cfg.Chat.Model,
			MaxTokens:   cfg.Chat.MaxTokens,
			Temperature: cfg.Chat.Temperature,
		})
	case "subprocess", "":
		return chat.NewSubprocessChannel(cfg.Chat.Binary, cfg.Chat.Model, workDir), nil
	default:
		return nil, fmt.Errorf("unknown chat.backend %q (want subprocess or api)", cfg.Chat.Backend)
	}
}

// displayNotifier adapts sprintctl.Notifier onto the terminal Display.
type displayNotifier struct {
	disp *display.Display
}

func (n displayNotifier) Notify(event, detail string) {
	switch event {
	case "sealed":
		n.disp.Success(fmt.Sprintf("%s sealed", detail))
	case "skipped":
		n.disp.Warning(fmt.Sprintf("%s skipped", detail))
	case "aborted":
		n.disp.Error(fmt.Sprintf("%s aborted", detail))
	case "escalated":
		n.disp.Error(fmt.Sprintf("escalated: %s", detail))
	default:
		n.disp.Info(event, detail)
	}
}
