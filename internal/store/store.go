// Package store implements the Task Store of spec.md §4.5: an embedded
// relational store (modernc.org/sqlite, the dominant pure-Go SQLite driver
// across the retrieved example pack) holding sprints, tasks, test plans,
// attempts, action outcomes, and flaky flags. Single-writer, many-reader.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codor-dev/codor/internal/types"
)

// Store wraps a *sql.DB with a single-writer mutex, mirroring the teacher's
// single-writer JSON state files but upgraded to an embedded relational
// engine per spec.md §3's explicit requirement.
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer, and modernc.org/sqlite is not safe for concurrent writers

	// SQLite leaves foreign keys (and so the schema's ON DELETE CASCADE
	// clauses) unenforced unless the connection switches them on.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sprints (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	sprint_id TEXT NOT NULL REFERENCES sprints(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	commit_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	depends_on TEXT NOT NULL,
	PRIMARY KEY (task_id, depends_on)
);

CREATE TABLE IF NOT EXISTS test_plans (
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	archived INTEGER NOT NULL DEFAULT 0,
	document TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (task_id, version)
);

CREATE TABLE IF NOT EXISTS attempts (
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	number INTEGER NOT NULL,
	plan_version INTEGER NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	evidence_dir TEXT NOT NULL DEFAULT '',
	closed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, number)
);

CREATE TABLE IF NOT EXISTS action_outcomes (
	task_id TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	action_id TEXT NOT NULL,
	action_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	blocking INTEGER NOT NULL,
	severity TEXT NOT NULL,
	reason TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	http_status INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (task_id, attempt_number, seq),
	FOREIGN KEY (task_id, attempt_number) REFERENCES attempts(task_id, number) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS flaky_flags (
	task_id TEXT NOT NULL,
	test_name TEXT NOT NULL,
	failures INTEGER NOT NULL,
	passed_at TEXT NOT NULL,
	PRIMARY KEY (task_id, test_name)
);
`

// --- Sprints ---------------------------------------------------------------

// CreateSprint inserts a new sprint in the planning status.
func (s *Store) CreateSprint(ctx context.Context, id string, now time.Time) (*types.Sprint, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sp := &types.Sprint{ID: id, Status: types.SprintPlanning, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sprints (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sp.ID, string(sp.Status), sp.CreatedAt.Format(time.RFC3339Nano), sp.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: create sprint: %w", err)
	}
	return sp, nil
}

// FindSprint loads a sprint and its ordered task IDs. It returns nil, nil
// when no sprint has that id.
func (s *Store) FindSprint(ctx context.Context, id string) (*types.Sprint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, status, created_at, updated_at FROM sprints WHERE id = ?`, id)
	sp := &types.Sprint{}
	var status, createdAt, updatedAt string
	if err := row.Scan(&sp.ID, &status, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find sprint %s: %w", id, err)
	}
	sp.Status = types.SprintStatus(status)
	sp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE sprint_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, err
		}
		sp.TaskIDs = append(sp.TaskIDs, taskID)
	}
	return sp, rows.Err()
}

// TransitionSprint updates a sprint's status. spec.md §3: exactly one
// sprint may be running per workspace; callers enforce that via the
// workspace advisory lock, not here.
func (s *Store) TransitionSprint(ctx context.Context, id string, status types.SprintStatus, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE sprints SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("store: transition sprint %s: %w", id, err)
	}
	return nil
}

// --- Tasks -------------------------------------------------------------

// CreateTask inserts a task (and its dependency edges) under a sprint.
func (s *Store) CreateTask(ctx context.Context, t *types.Task, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, sprint_id, title, description, status, sequence, commit_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SprintID, t.Title, t.Description, string(t.Status), t.Sequence, t.CommitHash,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: create task %s: %w", t.ID, err)
	}
	for _, dep := range t.Dependencies {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_dependencies (task_id, depends_on) VALUES (?, ?)`, t.ID, dep); err != nil {
			return fmt.Errorf("store: create task dependency %s -> %s: %w", t.ID, dep, err)
		}
	}
	return tx.Commit()
}

// TasksBySprint returns every task owned by sprintID, in sequence order.
func (s *Store) TasksBySprint(ctx context.Context, sprintID string) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sprint_id, title, description, status, sequence, commit_hash, created_at, updated_at
		 FROM tasks WHERE sprint_id = ? ORDER BY sequence`, sprintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t := &types.Task{}
		var status, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.SprintID, &t.Title, &t.Description, &status, &t.Sequence, &t.CommitHash, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.Status = types.TaskStatus(status)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		deps, err := s.dependenciesOf(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.Dependencies = deps
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) dependenciesOf(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT depends_on FROM task_dependencies WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// TransitionTask updates a task's status (and, on verification, its commit
// hash). Monotonic except failed -> in-progress on retry per spec.md §3;
// the caller (sprint controller) is responsible for enforcing legality of
// the transition.
func (s *Store) TransitionTask(ctx context.Context, taskID string, status types.TaskStatus, commitHash string, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, commit_hash = CASE WHEN ? != '' THEN ? ELSE commit_hash END, updated_at = ? WHERE id = ?`,
		string(status), commitHash, commitHash, now.Format(time.RFC3339Nano), taskID)
	if err != nil {
		return fmt.Errorf("store: transition task %s: %w", taskID, err)
	}
	return nil
}

// --- Test plans ----------------------------------------------------------

// AttachTestPlan stores plan as the task's next version and archives the
// previous active version, per spec.md §4.4 versioning rules.
func (s *Store) AttachTestPlan(ctx context.Context, plan *types.TestPlan, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxVersion int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM test_plans WHERE task_id = ?`, plan.TaskID)
	if err := row.Scan(&maxVersion); err != nil {
		return err
	}
	plan.Version = maxVersion + 1
	plan.CreatedAt = now

	if _, err := tx.ExecContext(ctx, `UPDATE test_plans SET archived = 1 WHERE task_id = ? AND archived = 0`, plan.TaskID); err != nil {
		return err
	}

	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("store: marshal test plan: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO test_plans (task_id, version, archived, document, created_at) VALUES (?, ?, 0, ?, ?)`,
		plan.TaskID, plan.Version, string(doc), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: attach test plan: %w", err)
	}
	return tx.Commit()
}

// ActiveTestPlan returns the highest non-archived version for taskID, or
// nil if none exists.
func (s *Store) ActiveTestPlan(ctx context.Context, taskID string) (*types.TestPlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM test_plans WHERE task_id = ? AND archived = 0 ORDER BY version DESC LIMIT 1`, taskID)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var plan types.TestPlan
	if err := json.Unmarshal([]byte(doc), &plan); err != nil {
		return nil, fmt.Errorf("store: unmarshal test plan: %w", err)
	}
	return &plan, nil
}

// ActivatePlanVersion re-marks an archived version active (rollback) and
// archives whatever was previously active, per spec.md §4.4.
func (s *Store) ActivatePlanVersion(ctx context.Context, taskID string, version int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE test_plans SET archived = 1 WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE test_plans SET archived = 0 WHERE task_id = ? AND version = ?`, taskID, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: no test plan version %d for task %s", version, taskID)
	}
	return tx.Commit()
}

// --- Attempts ------------------------------------------------------------

// NextAttemptNumber returns the dense, monotonically-increasing next
// attempt number for a task (Testable Property 1).
func (s *Store) NextAttemptNumber(ctx context.Context, taskID string) (int, error) {
	var max int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) FROM attempts WHERE task_id = ?`, taskID)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}

// AppendAttempt inserts a new (open) attempt row.
func (s *Store) AppendAttempt(ctx context.Context, a *types.Attempt) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (task_id, number, plan_version, start_at, evidence_dir) VALUES (?, ?, ?, ?, ?)`,
		a.TaskID, a.Number, a.PlanVersion, a.Start.Format(time.RFC3339Nano), a.EvidenceDir)
	if err != nil {
		return fmt.Errorf("store: append attempt: %w", err)
	}
	return nil
}

// CloseAttempt records the end timestamp, overall status, and action
// outcomes for an attempt, and marks it immutable.
func (s *Store) CloseAttempt(ctx context.Context, a *types.Attempt) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE attempts SET end_at = ?, status = ?, closed = 1 WHERE task_id = ? AND number = ?`,
		a.End.Format(time.RFC3339Nano), string(a.Status), a.TaskID, a.Number)
	if err != nil {
		return fmt.Errorf("store: close attempt: %w", err)
	}

	for i, oc := range a.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO action_outcomes
			 (task_id, attempt_number, seq, action_id, action_name, kind, blocking, severity, reason, exit_code, http_status, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.TaskID, a.Number, i, oc.ActionID, oc.ActionName, string(oc.Kind), boolToInt(oc.Blocking),
			string(oc.Severity), oc.Reason, oc.ExitCode, oc.HTTPStatus, oc.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("store: append action outcome: %w", err)
		}
	}
	return tx.Commit()
}

// AttemptsByTask returns every attempt recorded for taskID, in attempt
// number order (Testable Property 1).
func (s *Store) AttemptsByTask(ctx context.Context, taskID string) ([]*types.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, plan_version, start_at, end_at, status, evidence_dir, closed
		 FROM attempts WHERE task_id = ? ORDER BY number`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*types.Attempt
	for rows.Next() {
		a := &types.Attempt{TaskID: taskID}
		var startAt, endAt, status string
		var closed int
		if err := rows.Scan(&a.Number, &a.PlanVersion, &startAt, &endAt, &status, &a.EvidenceDir, &closed); err != nil {
			return nil, err
		}
		a.Start, _ = time.Parse(time.RFC3339Nano, startAt)
		if endAt != "" {
			a.End, _ = time.Parse(time.RFC3339Nano, endAt)
		}
		a.Status = types.ResultKind(status)
		a.Closed = closed == 1
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// TestFailureCount returns how many of taskID's prior attempts classified
// actionName test-failure, used to recognize a later success on the same
// action as flaky (spec.md §7).
func (s *Store) TestFailureCount(ctx context.Context, taskID, actionName string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_outcomes WHERE task_id = ? AND action_name = ? AND kind = ?`,
		taskID, actionName, string(types.KindTestFailure))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("store: test failure count: %w", err)
	}
	return count, nil
}

// --- Flaky flags -----------------------------------------------------------

// RecordFlakyFlag upserts a flaky-test annotation for a task.
func (s *Store) RecordFlakyFlag(ctx context.Context, f types.FlakyFlag) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flaky_flags (task_id, test_name, failures, passed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(task_id, test_name) DO UPDATE SET failures = excluded.failures, passed_at = excluded.passed_at`,
		f.TaskID, f.TestName, f.Failures, f.PassedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: record flaky flag: %w", err)
	}
	return nil
}

// FlakyFlagsByTask returns every flaky flag recorded for taskID.
func (s *Store) FlakyFlagsByTask(ctx context.Context, taskID string) ([]types.FlakyFlag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT test_name, failures, passed_at FROM flaky_flags WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []types.FlakyFlag
	for rows.Next() {
		f := types.FlakyFlag{TaskID: taskID}
		var passedAt string
		if err := rows.Scan(&f.TestName, &f.Failures, &passedAt); err != nil {
			return nil, err
		}
		f.PassedAt, _ = time.Parse(time.RFC3339Nano, passedAt)
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
