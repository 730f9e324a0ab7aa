package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
)

var (
	_ behavior.EventStore    = (*PostgresStore)(nil)
	_ automation.RuleStore   = (*PostgresStore)(nil)
	_ notify.PreferenceStore = (*PostgresStore)(nil)
	_ delivery.Queue         = (*PostgresStore)(nil)
)

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, ssl)
}

// PostgresStore is the durable store.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore opens a connection pool. The connection is not verified;
// call Ping.
func NewPostgresStore(cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen, maxIdle, lifetime := cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	return NewPostgresStoreFromDB(db, logger)
}

// NewPostgresStoreFromDB wraps an existing pool.
func NewPostgresStoreFromDB(db *sql.DB, logger *zap.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// Ping verifies the connection.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS behavior_events (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		entity_id VARCHAR(255),
		entity_type VARCHAR(64),
		metadata JSONB NOT NULL DEFAULT '{}',
		session_id VARCHAR(255),
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_behavior_events_user_time ON behavior_events(user_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS workflow_patterns (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		pattern_type VARCHAR(32) NOT NULL,
		signature VARCHAR(64) NOT NULL,
		description TEXT NOT NULL,
		frequency DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		automation_potential DOUBLE PRECISION NOT NULL,
		suggested_rule TEXT,
		conditions JSONB NOT NULL,
		actions JSONB NOT NULL,
		status VARCHAR(16) NOT NULL,
		source VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_patterns_user_sig ON workflow_patterns(user_id, signature)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		name TEXT NOT NULL,
		signature VARCHAR(64) NOT NULL,
		pattern_id VARCHAR(64) NOT NULL,
		pattern_type VARCHAR(32) NOT NULL,
		trigger_conditions JSONB NOT NULL,
		actions JSONB NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		status VARCHAR(16) NOT NULL,
		trigger_count INTEGER NOT NULL DEFAULT 0,
		success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_triggered TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(user_id, signature)
	)`,
	`CREATE TABLE IF NOT EXISTS routing_rules (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		signature VARCHAR(64) NOT NULL,
		conditions JSONB NOT NULL,
		routing JSONB NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		status VARCHAR(16) NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(user_id, signature)
	)`,
	`CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id VARCHAR(255) PRIMARY KEY,
		preferences JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS notification_rules (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		rule JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_queue (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		notification JSONB NOT NULL,
		scheduled_for TIMESTAMPTZ NOT NULL,
		status VARCHAR(16) NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		claimed_until TIMESTAMPTZ,
		sent_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_queue_due ON delivery_queue(status, scheduled_for)`,
}

// CreateTables creates the schema if it does not exist.
func (p *PostgresStore) CreateTables(ctx context.Context) error {
	for _, query := range schema {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return persistErr("create tables", err)
		}
	}
	p.logger.Info("database schema ready", zap.Int("statements", len(schema)))
	return nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func toJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}
	return data, nil
}

// --- events ---

// AppendEvent inserts an event. Duplicate IDs are ignored.
func (p *PostgresStore) AppendEvent(ctx context.Context, e *behavior.Event) error {
	if e == nil {
		return fmt.Errorf("event cannot be nil")
	}
	meta, err := toJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO behavior_events (id, user_id, event_type, entity_id, entity_type, metadata, session_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, string(e.Type), e.EntityID, e.EntityType, meta, e.SessionID, e.Timestamp)
	if err != nil {
		return persistErr("insert event", err)
	}
	return nil
}

// EventsBetween returns events with from <= timestamp < to, oldest first.
func (p *PostgresStore) EventsBetween(ctx context.Context, userID string, from, to time.Time) ([]behavior.Event, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, event_type, entity_id, entity_type, metadata, session_id, occurred_at
		 FROM behavior_events
		 WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		 ORDER BY occurred_at`,
		userID, from, to)
	if err != nil {
		return nil, persistErr("query events", err)
	}
	defer rows.Close()

	out := []behavior.Event{}
	for rows.Next() {
		var (
			e          behavior.Event
			eventType  string
			entityID   sql.NullString
			entityType sql.NullString
			sessionID  sql.NullString
			meta       []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &entityID, &entityType, &meta, &sessionID, &e.Timestamp); err != nil {
			return nil, persistErr("scan event", err)
		}
		e.Type = behavior.EventType(eventType)
		e.EntityID = entityID.String
		e.EntityType = entityType.String
		e.SessionID = sessionID.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding event metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate events", err)
	}
	return out, nil
}

// CountEventsSince counts events at or after since.
func (p *PostgresStore) CountEventsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM behavior_events WHERE user_id = $1 AND occurred_at >= $2`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, persistErr("count events", err)
	}
	return n, nil
}

// --- patterns ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPattern(ctx context.Context, db execer, pt *patterns.WorkflowPattern) error {
	conds, err := toJSON(pt.Conditions)
	if err != nil {
		return err
	}
	acts, err := toJSON(pt.Actions)
	if err != nil {
		return err
	}
	sig := pt.Signature()
	if _, err := db.ExecContext(ctx,
		`UPDATE workflow_patterns SET status = 'inactive'
		 WHERE user_id = $1 AND signature = $2 AND id <> $3 AND status <> 'inactive'`,
		pt.UserID, sig, pt.ID); err != nil {
		return persistErr("supersede patterns", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO workflow_patterns (id, user_id, pattern_type, signature, description, frequency, confidence,
			automation_potential, suggested_rule, conditions, actions, status, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pt.ID, pt.UserID, string(pt.Type), sig, pt.Description, pt.Frequency, pt.Confidence,
		pt.AutomationPotential, pt.SuggestedRule, conds, acts, string(pt.Status), string(pt.Source), pt.CreatedAt)
	if err != nil {
		return persistErr("insert pattern", err)
	}
	return nil
}

// SavePattern stores p and marks older patterns with the same signature inactive.
func (p *PostgresStore) SavePattern(ctx context.Context, pt *patterns.WorkflowPattern) error {
	if pt == nil {
		return fmt.Errorf("pattern cannot be nil")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPattern(ctx, tx, pt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// ListPatterns returns the user's patterns, newest first.
func (p *PostgresStore) ListPatterns(ctx context.Context, userID string, status patterns.Status) ([]patterns.WorkflowPattern, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, pattern_type, description, frequency, confidence, automation_potential,
			suggested_rule, conditions, actions, status, source, created_at
		 FROM workflow_patterns
		 WHERE user_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id DESC`,
		userID, string(status))
	if err != nil {
		return nil, persistErr("query patterns", err)
	}
	defer rows.Close()

	out := []patterns.WorkflowPattern{}
	for rows.Next() {
		var (
			pt                     patterns.WorkflowPattern
			ptype, pstatus, source string
			suggested              sql.NullString
			conds, acts            []byte
		)
		if err := rows.Scan(&pt.ID, &pt.UserID, &ptype, &pt.Description, &pt.Frequency, &pt.Confidence,
			&pt.AutomationPotential, &suggested, &conds, &acts, &pstatus, &source, &pt.CreatedAt); err != nil {
			return nil, persistErr("scan pattern", err)
		}
		pt.Type = patterns.Type(ptype)
		pt.Status = patterns.Status(pstatus)
		pt.Source = patterns.Source(source)
		pt.SuggestedRule = suggested.String
		if err := json.Unmarshal(conds, &pt.Conditions); err != nil {
			return nil, fmt.Errorf("decoding pattern conditions: %w", err)
		}
		if err := json.Unmarshal(acts, &pt.Actions); err != nil {
			return nil, fmt.Errorf("decoding pattern actions: %w", err)
		}
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate patterns", err)
	}
	return out, nil
}

// --- automation rules ---

const ruleColumns = `id, user_id, name, signature, pattern_id, pattern_type, trigger_conditions, actions,
	confidence, status, trigger_count, success_rate, last_triggered, created_at, updated_at`

func scanRule(row scanner) (*automation.Rule, error) {
	var (
		r             automation.Rule
		ptype, status string
		conds, acts   []byte
		last          sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Signature, &r.PatternID, &ptype, &conds, &acts,
		&r.Confidence, &status, &r.TriggerCount, &r.SuccessRate, &last, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.PatternType = patterns.Type(ptype)
	r.Status = automation.RuleStatus(status)
	if last.Valid {
		t := last.Time
		r.LastTriggered = &t
	}
	if err := json.Unmarshal(conds, &r.TriggerConditions); err != nil {
		return nil, fmt.Errorf("decoding rule conditions: %w", err)
	}
	if err := json.Unmarshal(acts, &r.Actions); err != nil {
		return nil, fmt.Errorf("decoding rule actions: %w", err)
	}
	return &r, nil
}

// SavePatternAndRule stores the pattern and creates r, or refreshes the
// confidence of the user's rule with the same signature, in one transaction.
func (p *PostgresStore) SavePatternAndRule(ctx context.Context, pt *patterns.WorkflowPattern, r *automation.Rule) (*automation.Rule, bool, error) {
	if pt == nil || r == nil {
		return nil, false, fmt.Errorf("pattern and rule are required")
	}
	conds, err := toJSON(r.TriggerConditions)
	if err != nil {
		return nil, false, err
	}
	acts, err := toJSON(r.Actions)
	if err != nil {
		return nil, false, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, persistErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPattern(ctx, tx, pt); err != nil {
		return nil, false, err
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO automation_rules (id, user_id, name, signature, pattern_id, pattern_type, trigger_conditions,
			actions, confidence, status, trigger_count, success_rate, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, $11, $12)
		 ON CONFLICT (user_id, signature) DO UPDATE
			SET confidence = EXCLUDED.confidence, pattern_id = EXCLUDED.pattern_id, updated_at = EXCLUDED.updated_at
		 RETURNING `+ruleColumns+`, (xmax = 0) AS inserted`,
		r.ID, r.UserID, r.Name, r.Signature, r.PatternID, string(r.PatternType), conds, acts,
		r.Confidence, string(r.Status), r.CreatedAt, r.UpdatedAt)

	var inserted bool
	saved, err := scanRule(scanFunc(func(dest ...any) error {
		return row.Scan(append(dest, &inserted)...)
	}))
	if err != nil {
		return nil, false, persistErr("upsert rule", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, persistErr("commit", err)
	}
	return saved, inserted, nil
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// GetRule returns a rule by ID.
func (p *PostgresStore) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, ruleID)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ruleNotFound(ruleID)
	}
	if err != nil {
		return nil, persistErr("get rule", err)
	}
	return r, nil
}

// ListRules returns the user's rules ordered by creation time.
func (p *PostgresStore) ListRules(ctx context.Context, userID string, status automation.RuleStatus) ([]automation.Rule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		 WHERE user_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at, id`,
		userID, string(status))
	if err != nil {
		return nil, persistErr("query rules", err)
	}
	defer rows.Close()

	out := []automation.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, persistErr("scan rule", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate rules", err)
	}
	return out, nil
}

func affectedOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// UpdateRuleStats writes execution statistics.
func (p *PostgresStore) UpdateRuleStats(ctx context.Context, ruleID string, triggerCount int, successRate float64, lastTriggered time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE automation_rules
		 SET trigger_count = $2, success_rate = $3, last_triggered = $4, updated_at = $4
		 WHERE id = $1`,
		ruleID, triggerCount, successRate, lastTriggered)
	if err != nil {
		return persistErr("update rule stats", err)
	}
	return affectedOne(res, ruleNotFound(ruleID))
}

// SetRuleStatus changes a rule's status.
func (p *PostgresStore) SetRuleStatus(ctx context.Context, ruleID string, status automation.RuleStatus) (*automation.Rule, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE automation_rules SET status = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+ruleColumns,
		ruleID, string(status))
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ruleNotFound(ruleID)
	}
	if err != nil {
		return nil, persistErr("set rule status", err)
	}
	return r, nil
}

// --- routing rules ---

const routingColumns = `id, user_id, signature, conditions, routing, confidence, status, usage_count, created_at, updated_at`

func scanRouting(row scanner, extra ...any) (*automation.RoutingRule, error) {
	var (
		r              automation.RoutingRule
		status         string
		conds, routing []byte
	)
	dest := append([]any{&r.ID, &r.UserID, &r.Signature, &conds, &routing, &r.Confidence, &status,
		&r.UsageCount, &r.CreatedAt, &r.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Status = automation.RuleStatus(status)
	if err := json.Unmarshal(conds, &r.Conditions); err != nil {
		return nil, fmt.Errorf("decoding routing conditions: %w", err)
	}
	if err := json.Unmarshal(routing, &r.Routing); err != nil {
		return nil, fmt.Errorf("decoding routing: %w", err)
	}
	return &r, nil
}

// UpsertRoutingRule creates or refreshes a routing rule by signature.
func (p *PostgresStore) UpsertRoutingRule(ctx context.Context, r *automation.RoutingRule) (*automation.RoutingRule, bool, error) {
	if r == nil {
		return nil, false, fmt.Errorf("routing rule cannot be nil")
	}
	conds, err := toJSON(r.Conditions)
	if err != nil {
		return nil, false, err
	}
	routing, err := toJSON(r.Routing)
	if err != nil {
		return nil, false, err
	}
	row := p.db.QueryRowContext(ctx,
		`INSERT INTO routing_rules (id, user_id, signature, conditions, routing, confidence, status, usage_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		 ON CONFLICT (user_id, signature) DO UPDATE
			SET confidence = EXCLUDED.confidence, routing = EXCLUDED.routing, updated_at = EXCLUDED.updated_at
		 RETURNING `+routingColumns+`, (xmax = 0) AS inserted`,
		r.ID, r.UserID, r.Signature, conds, routing, r.Confidence, string(r.Status), r.CreatedAt, r.UpdatedAt)

	var inserted bool
	saved, err := scanRouting(row, &inserted)
	if err != nil {
		return nil, false, persistErr("upsert routing rule", err)
	}
	return saved, inserted, nil
}

// ListRoutingRules returns the user's routing rules, most confident first.
func (p *PostgresStore) ListRoutingRules(ctx context.Context, userID string, status automation.RuleStatus) ([]automation.RoutingRule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+routingColumns+` FROM routing_rules
		 WHERE user_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY confidence DESC, id`,
		userID, string(status))
	if err != nil {
		return nil, persistErr("query routing rules", err)
	}
	defer rows.Close()

	out := []automation.RoutingRule{}
	for rows.Next() {
		r, err := scanRouting(rows)
		if err != nil {
			return nil, persistErr("scan routing rule", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate routing rules", err)
	}
	return out, nil
}

// IncrementRoutingUsage bumps a routing rule's usage count.
func (p *PostgresStore) IncrementRoutingUsage(ctx context.Context, ruleID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE routing_rules SET usage_count = usage_count + 1 WHERE id = $1`, ruleID)
	if err != nil {
		return persistErr("increment routing usage", err)
	}
	return affectedOne(res, ruleNotFound(ruleID))
}

// --- preferences ---

// GetPreferences returns the user's stored preferences.
func (p *PostgresStore) GetPreferences(ctx context.Context, userID string) (*notify.Preferences, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT preferences FROM notification_preferences WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preferences for %s: %w: %w", userID, ErrNotFound, notify.ErrNoPreferences)
	}
	if err != nil {
		return nil, persistErr("get preferences", err)
	}
	var prefs notify.Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	return &prefs, nil
}

// SavePreferences upserts preferences.
func (p *PostgresStore) SavePreferences(ctx context.Context, prefs *notify.Preferences) error {
	if prefs == nil {
		return fmt.Errorf("preferences cannot be nil")
	}
	data, err := toJSON(prefs)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, preferences, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET preferences = EXCLUDED.preferences, updated_at = NOW()`,
		prefs.UserID, data)
	if err != nil {
		return persistErr("save preferences", err)
	}
	return nil
}

// ListNotificationRules returns the user's notification rules.
func (p *PostgresStore) ListNotificationRules(ctx context.Context, userID string) ([]notify.Rule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT rule FROM notification_rules WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, persistErr("query notification rules", err)
	}
	defer rows.Close()

	out := []notify.Rule{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, persistErr("scan notification rule", err)
		}
		var r notify.Rule
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding notification rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate notification rules", err)
	}
	return out, nil
}

// SaveNotificationRule upserts a notification rule by ID.
func (p *PostgresStore) SaveNotificationRule(ctx context.Context, r *notify.Rule) error {
	if r == nil {
		return fmt.Errorf("notification rule cannot be nil")
	}
	data, err := toJSON(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO notification_rules (id, user_id, rule) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET rule = EXCLUDED.rule`,
		r.ID, r.UserID, data)
	if err != nil {
		return persistErr("save notification rule", err)
	}
	return nil
}

// --- delivery queue ---

const itemColumns = `id, user_id, notification, scheduled_for, status, attempts, last_error, claimed_until, sent_at, created_at`

func scanItem(row scanner) (*delivery.Item, error) {
	var (
		it      delivery.Item
		status  string
		data    []byte
		claimed sql.NullTime
		sent    sql.NullTime
	)
	if err := row.Scan(&it.ID, &it.UserID, &data, &it.ScheduledFor, &status, &it.Attempts,
		&it.LastError, &claimed, &sent, &it.CreatedAt); err != nil {
		return nil, err
	}
	it.Status = delivery.Status(status)
	if claimed.Valid {
		t := claimed.Time
		it.ClaimedUntil = &t
	}
	if sent.Valid {
		t := sent.Time
		it.SentAt = &t
	}
	if err := json.Unmarshal(data, &it.Notification); err != nil {
		return nil, fmt.Errorf("decoding notification: %w", err)
	}
	return &it, nil
}

// Enqueue inserts a pending item.
func (p *PostgresStore) Enqueue(ctx context.Context, item *delivery.Item) error {
	if item == nil {
		return fmt.Errorf("item cannot be nil")
	}
	data, err := toJSON(item.Notification)
	if err != nil {
		return err
	}
	status := item.Status
	if status == "" {
		status = delivery.StatusPending
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO delivery_queue (id, user_id, notification, scheduled_for, status, attempts, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.UserID, data, item.ScheduledFor, string(status), item.Attempts, item.LastError, item.CreatedAt)
	if err != nil {
		return persistErr("enqueue item", err)
	}
	return nil
}

// ClaimDue leases due items with FOR UPDATE SKIP LOCKED so concurrent
// schedulers never claim the same row.
func (p *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]delivery.Item, error) {
	rows, err := p.db.QueryContext(ctx,
		`UPDATE delivery_queue SET claimed_until = $2
		 WHERE id IN (
			SELECT id FROM delivery_queue
			WHERE status = 'pending' AND scheduled_for <= $1
				AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY scheduled_for, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+itemColumns,
		now, now.Add(lease), limit)
	if err != nil {
		return nil, persistErr("claim due items", err)
	}
	defer rows.Close()

	out := []delivery.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, persistErr("scan item", err)
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate items", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkSent records a delivery.
func (p *PostgresStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE delivery_queue SET status = 'sent', sent_at = $2, claimed_until = NULL WHERE id = $1`,
		id, at)
	if err != nil {
		return persistErr("mark sent", err)
	}
	return affectedOne(res, itemNotFound(id))
}

// MarkFailed records a failed attempt.
func (p *PostgresStore) MarkFailed(ctx context.Context, id string, reason string, retryAt time.Time, dead bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE delivery_queue
		 SET attempts = attempts + 1, last_error = $2, claimed_until = NULL,
			status = CASE WHEN $4 THEN 'dead' ELSE status END,
			scheduled_for = CASE WHEN $4 THEN scheduled_for ELSE $3 END
		 WHERE id = $1`,
		id, reason, retryAt, dead)
	if err != nil {
		return persistErr("mark failed", err)
	}
	return affectedOne(res, itemNotFound(id))
}

// GetItem returns a queue item.
func (p *PostgresStore) GetItem(ctx context.Context, id string) (*delivery.Item, error) {
	it, err := scanItem(p.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM delivery_queue WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, itemNotFound(id)
	}
	if err != nil {
		return nil, persistErr("get item", err)
	}
	return it, nil
}
