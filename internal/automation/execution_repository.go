package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionRepository defines persistence for execution records and device
// commands. Execution rows are created pending and finalized exactly once.
type ExecutionRepository interface {
	CreatePending(ctx context.Context, e *Execution) error
	Finalize(ctx context.Context, id string, outcome Outcome) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]Execution, error)
	LastFired(ctx context.Context, ruleID string) (*time.Time, error)

	CreateCommand(ctx context.Context, c *DeviceCommand) error
	UpdateCommand(ctx context.Context, c *DeviceCommand) error
	GetCommand(ctx context.Context, id string) (*DeviceCommand, error)
	ListCommands(ctx context.Context, executionID string) ([]DeviceCommand, error)
	ListRecentCommands(ctx context.Context, deviceID string, limit int) ([]DeviceCommand, error)
}

// SQLiteExecutionRepository implements ExecutionRepository using SQLite.
type SQLiteExecutionRepository struct {
	db *sql.DB
}

// NewSQLiteExecutionRepository creates a new SQLite-backed execution repository.
func NewSQLiteExecutionRepository(db *sql.DB) *SQLiteExecutionRepository {
	return &SQLiteExecutionRepository{db: db}
}

// CreatePending inserts a new execution record in dispatching state.
// ID and StartedAt are generated if empty; Finalized is forced off.
func (r *SQLiteExecutionRepository) CreatePending(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		e.ID = "exe-" + uuid.NewString()[:8]
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = ExecutionDispatching
	}
	e.Finalized = false
	e.FinishedAt = nil

	trigger, err := json.Marshal(e.Trigger)
	if err != nil {
		return fmt.Errorf("marshaling trigger event: %w", err)
	}
	snapshot := "null"
	if e.RuleSnapshot != nil {
		b, err := json.Marshal(e.RuleSnapshot)
		if err != nil {
			return fmt.Errorf("marshaling rule snapshot: %w", err)
		}
		snapshot = string(b)
	}
	conditions, commands, err := marshalOutcomeLists(e.Conditions, e.Commands)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO automation_executions
			(id, rule_id, scene_id, trigger_event, rule_snapshot, conditions, commands,
			 status, abort_reason, started_at, finished_at, finalized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, nullable(e.RuleID), nullable(e.SceneID), string(trigger), snapshot,
		conditions, commands, string(e.Status), nullable(e.AbortReason),
		e.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting execution %s: %w", e.ID, err)
	}
	return nil
}

// Finalize writes the outcome onto a pending execution and marks it
// immutable. Finalizing an already-finalized record returns ErrFinalized.
func (r *SQLiteExecutionRepository) Finalize(ctx context.Context, id string, outcome Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("%w: finalize requires a terminal status, got %q", ErrValidation, outcome.Status)
	}
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = time.Now().UTC()
	}

	conditions, commands, err := marshalOutcomeLists(outcome.Conditions, outcome.Commands)
	if err != nil {
		return err
	}

	const query = `
		UPDATE automation_executions SET
			status = ?, abort_reason = ?, conditions = ?, commands = ?,
			finished_at = ?, finalized = 1
		WHERE id = ? AND finalized = 0`
	res, err := r.db.ExecContext(ctx, query,
		string(outcome.Status), nullable(outcome.AbortReason), conditions, commands,
		outcome.FinishedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finalizing execution %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking finalize result: %w", err)
	}
	if affected == 0 {
		// Either missing or already finalized; look to tell which.
		if _, getErr := r.GetExecution(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrFinalized, id)
	}
	return nil
}

// GetExecution retrieves an execution record by its unique identifier.
func (r *SQLiteExecutionRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	const query = `
		SELECT id, rule_id, scene_id, trigger_event, rule_snapshot, conditions,
		       commands, status, abort_reason, started_at, finished_at, finalized
		FROM automation_executions WHERE id = ?`

	e, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution %s: %w", id, err)
	}
	return e, nil
}

// ListExecutions returns executions newest first, optionally filtered by
// rule. A limit of zero or below returns everything.
func (r *SQLiteExecutionRepository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]Execution, error) {
	query := `
		SELECT id, rule_id, scene_id, trigger_event, rule_snapshot, conditions,
		       commands, status, abort_reason, started_at, finished_at, finalized
		FROM automation_executions`
	var args []any
	if ruleID != "" {
		query += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		executions = append(executions, *e)
	}
	return executions, rows.Err()
}

// LastFired returns the start time of the rule's most recent actual firing.
// Aborted (coalesced or condition-failed) executions do not count as
// firings. Returns nil when the rule has never fired.
func (r *SQLiteExecutionRepository) LastFired(ctx context.Context, ruleID string) (*time.Time, error) {
	const query = `
		SELECT started_at FROM automation_executions
		WHERE rule_id = ? AND status != ?
		ORDER BY started_at DESC LIMIT 1`

	var startedAt string
	err := r.db.QueryRowContext(ctx, query, ruleID, string(ExecutionAborted)).Scan(&startedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying last firing for %s: %w", ruleID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	return &t, nil
}

// CreateCommand inserts a device command. ID, timestamps and pending status
// are generated if empty.
func (r *SQLiteExecutionRepository) CreateCommand(ctx context.Context, c *DeviceCommand) error {
	if c.ID == "" {
		c.ID = "cmd-" + uuid.NewString()[:8]
	}
	if c.Status == "" {
		c.Status = CommandPending
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	params := "null"
	if c.Parameters != nil {
		b, err := json.Marshal(c.Parameters)
		if err != nil {
			return fmt.Errorf("marshaling command parameters: %w", err)
		}
		params = string(b)
	}

	const query = `
		INSERT INTO device_commands
			(id, device_id, execution_id, name, parameters, status, attempts,
			 failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.DeviceID, nullable(c.ExecutionID), c.Name, params,
		string(c.Status), c.Attempts, nullable(c.FailureReason),
		c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting command %s: %w", c.ID, err)
	}
	return nil
}

// UpdateCommand persists lifecycle changes (status, attempts, failure
// reason). Moving a command out of a terminal status returns
// ErrCommandTerminal.
func (r *SQLiteExecutionRepository) UpdateCommand(ctx context.Context, c *DeviceCommand) error {
	c.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE device_commands SET status = ?, attempts = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		string(c.Status), c.Attempts, nullable(c.FailureReason),
		c.UpdatedAt.Format(time.RFC3339Nano), c.ID,
		string(CommandAcknowledged), string(CommandFailed))
	if err != nil {
		return fmt.Errorf("updating command %s: %w", c.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking command update: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetCommand(ctx, c.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrCommandTerminal, c.ID)
	}
	return nil
}

// GetCommand retrieves a device command by its unique identifier.
func (r *SQLiteExecutionRepository) GetCommand(ctx context.Context, id string) (*DeviceCommand, error) {
	const query = `
		SELECT id, device_id, execution_id, name, parameters, status, attempts,
		       failure_reason, created_at, updated_at
		FROM device_commands WHERE id = ?`

	c, err := scanCommand(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command %s: %w", id, err)
	}
	return c, nil
}

// ListCommands returns the commands of an execution in creation order.
func (r *SQLiteExecutionRepository) ListCommands(ctx context.Context, executionID string) ([]DeviceCommand, error) {
	const query = `
		SELECT id, device_id, execution_id, name, parameters, status, attempts,
		       failure_reason, created_at, updated_at
		FROM device_commands WHERE execution_id = ? ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []DeviceCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *c)
	}
	return commands, rows.Err()
}

// ListRecentCommands returns commands newest first, optionally filtered by
// device. Covers both rule-issued and manual commands. A limit of zero or
// below returns everything.
func (r *SQLiteExecutionRepository) ListRecentCommands(ctx context.Context, deviceID string, limit int) ([]DeviceCommand, error) {
	query := `
		SELECT id, device_id, execution_id, name, parameters, status, attempts,
		       failure_reason, created_at, updated_at
		FROM device_commands`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []DeviceCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *c)
	}
	return commands, rows.Err()
}

func marshalOutcomeLists(conditions []ConditionResult, commands []DeviceCommand) (string, string, error) {
	if conditions == nil {
		conditions = []ConditionResult{}
	}
	if commands == nil {
		commands = []DeviceCommand{}
	}
	c, err := json.Marshal(conditions)
	if err != nil {
		return "", "", fmt.Errorf("marshaling condition results: %w", err)
	}
	m, err := json.Marshal(commands)
	if err != nil {
		return "", "", fmt.Errorf("marshaling commands: %w", err)
	}
	return string(c), string(m), nil
}

func scanExecution(s scanner) (*Execution, error) {
	var e Execution
	var ruleID, sceneID, abortReason, finishedAt sql.NullString
	var trigger, snapshot, conditions, commands, startedAt string
	var finalized int

	err := s.Scan(&e.ID, &ruleID, &sceneID, &trigger, &snapshot, &conditions,
		&commands, (*string)(&e.Status), &abortReason, &startedAt, &finishedAt, &finalized)
	if err != nil {
		return nil, err
	}

	e.RuleID = ruleID.String
	e.SceneID = sceneID.String
	e.AbortReason = abortReason.String
	e.Finalized = finalized != 0

	if err := json.Unmarshal([]byte(trigger), &e.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger event: %w", err)
	}
	if snapshot != "" && snapshot != "null" {
		if err := json.Unmarshal([]byte(snapshot), &e.RuleSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshaling rule snapshot: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(conditions), &e.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshaling condition results: %w", err)
	}
	if err := json.Unmarshal([]byte(commands), &e.Commands); err != nil {
		return nil, fmt.Errorf("unmarshaling commands: %w", err)
	}

	e.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		e.FinishedAt = &t
	}
	return &e, nil
}

func scanCommand(s scanner) (*DeviceCommand, error) {
	var c DeviceCommand
	var executionID, params, failureReason sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.DeviceID, &executionID, &c.Name, &params,
		(*string)(&c.Status), &c.Attempts, &failureReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.ExecutionID = executionID.String
	c.FailureReason = failureReason.String
	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &c.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshaling command parameters: %w", err)
		}
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
