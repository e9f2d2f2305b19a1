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

// Repository defines persistence for rules and scenes.
type Repository interface {
	CreateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	UpdateRule(ctx context.Context, r *Rule) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	SetRuleInvalid(ctx context.Context, id, reason string) error
	DeleteRule(ctx context.Context, id string) error

	CreateScene(ctx context.Context, s *Scene) error
	GetScene(ctx context.Context, id string) (*Scene, error)
	ListScenes(ctx context.Context) ([]Scene, error)
	UpdateScene(ctx context.Context, s *Scene) error
	DeleteScene(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed automation repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRule validates and inserts a rule. ID, slug and timestamps are
// generated if empty.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.Slug == "" && rule.Name != "" {
		rule.Slug = GenerateSlug(rule.Name)
	}
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = "rul-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	trigger, conditions, actions, err := marshalRuleSpecs(rule)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO automation_rules
			(id, name, slug, description, enabled, allow_overlap, invalid_reason,
			 trigger_spec, conditions, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Slug, rule.Description,
		boolToInt(rule.Enabled), boolToInt(rule.AllowOverlap), rule.InvalidReason,
		trigger, conditions, actions,
		rule.CreatedAt.Format(time.RFC3339), rule.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting rule %s: %w", rule.ID, err)
	}
	return nil
}

// GetRule retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	const query = `
		SELECT id, name, slug, description, enabled, allow_overlap, invalid_reason,
		       trigger_spec, conditions, actions, created_at, updated_at
		FROM automation_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule %s: %w", id, err)
	}
	return rule, nil
}

// ListRules retrieves all rules ordered by name.
func (r *SQLiteRepository) ListRules(ctx context.Context) ([]Rule, error) {
	const query = `
		SELECT id, name, slug, description, enabled, allow_overlap, invalid_reason,
		       trigger_spec, conditions, actions, created_at, updated_at
		FROM automation_rules ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// UpdateRule validates and persists changes to an existing rule.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	trigger, conditions, actions, err := marshalRuleSpecs(rule)
	if err != nil {
		return err
	}

	const query = `
		UPDATE automation_rules SET
			name = ?, slug = ?, description = ?, enabled = ?, allow_overlap = ?,
			invalid_reason = ?, trigger_spec = ?, conditions = ?, actions = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Slug, rule.Description,
		boolToInt(rule.Enabled), boolToInt(rule.AllowOverlap), rule.InvalidReason,
		trigger, conditions, actions,
		rule.UpdatedAt.Format(time.RFC3339), rule.ID)
	if err != nil {
		return fmt.Errorf("updating rule %s: %w", rule.ID, err)
	}
	return checkAffected(res, ErrRuleNotFound)
}

// SetRuleEnabled flips a rule's enabled flag.
func (r *SQLiteRepository) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	const query = `UPDATE automation_rules SET enabled = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("toggling rule %s: %w", id, err)
	}
	return checkAffected(res, ErrRuleNotFound)
}

// SetRuleInvalid flags a rule as invalid with a reason, or clears the flag
// with an empty reason. Invalid rules are never evaluated.
func (r *SQLiteRepository) SetRuleInvalid(ctx context.Context, id, reason string) error {
	const query = `UPDATE automation_rules SET invalid_reason = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		reason, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("flagging rule %s: %w", id, err)
	}
	return checkAffected(res, ErrRuleNotFound)
}

// DeleteRule removes a rule. Past executions keep their frozen snapshots.
func (r *SQLiteRepository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	return checkAffected(res, ErrRuleNotFound)
}

// CreateScene validates and inserts a scene. ID, slug and timestamps are
// generated if empty.
func (r *SQLiteRepository) CreateScene(ctx context.Context, scene *Scene) error {
	if scene.Slug == "" && scene.Name != "" {
		scene.Slug = GenerateSlug(scene.Name)
	}
	if err := ValidateScene(scene); err != nil {
		return err
	}
	if scene.ID == "" {
		scene.ID = "scn-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now

	actions, err := json.Marshal(scene.Actions)
	if err != nil {
		return fmt.Errorf("marshaling scene actions: %w", err)
	}

	const query = `
		INSERT INTO scenes (id, name, slug, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		scene.ID, scene.Name, scene.Slug, string(actions),
		scene.CreatedAt.Format(time.RFC3339), scene.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting scene %s: %w", scene.ID, err)
	}
	return nil
}

// GetScene retrieves a scene by its unique identifier.
func (r *SQLiteRepository) GetScene(ctx context.Context, id string) (*Scene, error) {
	const query = `SELECT id, name, slug, actions, created_at, updated_at FROM scenes WHERE id = ?`

	scene, err := scanScene(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("querying scene %s: %w", id, err)
	}
	return scene, nil
}

// ListScenes retrieves all scenes ordered by name.
func (r *SQLiteRepository) ListScenes(ctx context.Context) ([]Scene, error) {
	const query = `SELECT id, name, slug, actions, created_at, updated_at FROM scenes ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		scenes = append(scenes, *scene)
	}
	return scenes, rows.Err()
}

// UpdateScene validates and persists changes to an existing scene.
func (r *SQLiteRepository) UpdateScene(ctx context.Context, scene *Scene) error {
	if err := ValidateScene(scene); err != nil {
		return err
	}
	scene.UpdatedAt = time.Now().UTC()

	actions, err := json.Marshal(scene.Actions)
	if err != nil {
		return fmt.Errorf("marshaling scene actions: %w", err)
	}

	const query = `UPDATE scenes SET name = ?, slug = ?, actions = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		scene.Name, scene.Slug, string(actions),
		scene.UpdatedAt.Format(time.RFC3339), scene.ID)
	if err != nil {
		return fmt.Errorf("updating scene %s: %w", scene.ID, err)
	}
	return checkAffected(res, ErrSceneNotFound)
}

// DeleteScene removes a scene. Rules referencing it fail validation on next load.
func (r *SQLiteRepository) DeleteScene(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting scene %s: %w", id, err)
	}
	return checkAffected(res, ErrSceneNotFound)
}

func marshalRuleSpecs(rule *Rule) (trigger, conditions, actions string, err error) {
	t, err := json.Marshal(rule.Trigger)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling trigger: %w", err)
	}
	c, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling conditions: %w", err)
	}
	a, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling actions: %w", err)
	}
	return string(t), string(c), string(a), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*Rule, error) {
	var rule Rule
	var description, invalidReason sql.NullString
	var enabled, allowOverlap int
	var trigger, conditions, actions string
	var createdAt, updatedAt string

	err := s.Scan(&rule.ID, &rule.Name, &rule.Slug, &description, &enabled, &allowOverlap,
		&invalidReason, &trigger, &conditions, &actions, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.InvalidReason = invalidReason.String
	rule.Enabled = enabled != 0
	rule.AllowOverlap = allowOverlap != 0

	if err := json.Unmarshal([]byte(trigger), &rule.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshaling conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("unmarshaling actions: %w", err)
	}

	rule.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rule.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rule, nil
}

func scanScene(s scanner) (*Scene, error) {
	var scene Scene
	var actions, createdAt, updatedAt string

	if err := s.Scan(&scene.ID, &scene.Name, &scene.Slug, &actions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actions), &scene.Actions); err != nil {
		return nil, fmt.Errorf("unmarshaling scene actions: %w", err)
	}
	scene.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	scene.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &scene, nil
}

func checkAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking result: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
