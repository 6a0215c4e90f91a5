package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zivhm/yacb/internal/cron"
)

// SQLiteStore is the durable log: chat messages, token usage, cron jobs,
// settings and remembered facts
type SQLiteStore struct {
	db *sql.DB
}

// MessageRecord is one logged chat message
type MessageRecord struct {
	Channel   string
	ChatID    string
	SenderID  string
	Role      string
	Content   string
	Timestamp time.Time
}

// UsageRecord is the token usage of one turn
type UsageRecord struct {
	Channel          string
	ChatID           string
	Model            string
	Tier             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
}

// ModelUsage aggregates usage per model and tier
type ModelUsage struct {
	Model            string
	Tier             string
	Calls            int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(channel, chat_id, id)`,
	`CREATE TABLE IF NOT EXISTS token_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		model TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_token_usage_chat ON token_usage(chat_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS cron_jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		schedule_json TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		delete_after_run INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memory_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'uncategorized',
		source TEXT NOT NULL DEFAULT 'conversation',
		created_at INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_items_category ON memory_items(category, id)`,
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the background loggers write while a turn reads history
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("PRAGMA busy_timeout=5000")

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Message Log ===

// LogMessage appends one chat message to the log
func (s *SQLiteStore) LogMessage(ctx context.Context, m MessageRecord) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (channel, chat_id, sender_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Channel, m.ChatID, m.SenderID, m.Role, m.Content, ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit messages of a chat in ascending
// order. Empty channel and chat id read across all chats.
func (s *SQLiteStore) RecentMessages(ctx context.Context, channel, chatID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	where := "channel = ? AND chat_id = ?"
	args := []any{channel, chatID, limit}
	if channel == "" && chatID == "" {
		where = "1 = 1"
		args = []any{limit}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, chat_id, sender_id, role, content, timestamp
		FROM messages
		WHERE `+where+`
		ORDER BY id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	records, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// MessagesSince returns up to limit messages of a chat newer than since, oldest first
func (s *SQLiteStore) MessagesSince(ctx context.Context, channel, chatID string, since time.Time, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, chat_id, sender_id, role, content, timestamp
		FROM messages
		WHERE channel = ? AND chat_id = ? AND timestamp > ?
		ORDER BY id ASC
		LIMIT ?
	`, channel, chatID, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SearchMessages finds messages containing query, newest first. Empty channel
// or chat id widen the search.
func (s *SQLiteStore) SearchMessages(ctx context.Context, query, channel, chatID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	where := "content LIKE ?"
	args := []any{"%" + query + "%"}
	if channel != "" {
		where += " AND channel = ?"
		args = append(args, channel)
	}
	if chatID != "" {
		where += " AND chat_id = ?"
		args = append(args, chatID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, chat_id, sender_id, role, content, timestamp
		FROM messages
		WHERE `+where+`
		ORDER BY id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]MessageRecord, error) {
	var records []MessageRecord
	for rows.Next() {
		var m MessageRecord
		var ts int64
		if err := rows.Scan(&m.Channel, &m.ChatID, &m.SenderID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		records = append(records, m)
	}
	return records, rows.Err()
}

// === Token Usage ===

// LogTokenUsage records the usage of one turn
func (s *SQLiteStore) LogTokenUsage(ctx context.Context, u UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage
			(channel, chat_id, model, tier, prompt_tokens, completion_tokens, total_tokens, cost, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.Channel, u.ChatID, u.Model, u.Tier, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.Cost, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to log token usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates usage per model and tier for a chat over the last days days,
// most expensive first. An empty chat id covers every chat.
func (s *SQLiteStore) UsageSummary(ctx context.Context, chatID string, days int) ([]ModelUsage, error) {
	if days <= 0 {
		days = 1
	}
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()

	query := `
		SELECT model, tier, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost)
		FROM token_usage
		WHERE timestamp >= ?`
	args := []any{since}
	if chatID != "" {
		query += " AND chat_id = ?"
		args = append(args, chatID)
	}
	query += " GROUP BY model, tier ORDER BY SUM(cost) DESC, model ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Tier, &u.Calls, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// === Cron Job Persistence ===

// LoadJobs reads every persisted cron job
func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*cron.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, enabled, schedule_json, payload_json, state_json, created_at, updated_at, delete_after_run
		FROM cron_jobs
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cron jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*cron.Job
	for rows.Next() {
		var (
			job                          cron.Job
			scheduleJSON, payload, state string
			createdAt, updatedAt         int64
		)
		if err := rows.Scan(&job.ID, &job.Name, &job.Enabled, &scheduleJSON, &payload, &state,
			&createdAt, &updatedAt, &job.DeleteAfterRun); err != nil {
			return nil, fmt.Errorf("failed to scan cron job: %w", err)
		}
		if err := json.Unmarshal([]byte(scheduleJSON), &job.Schedule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule of job %s: %w", job.ID, err)
		}
		if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload of job %s: %w", job.ID, err)
		}
		if err := json.Unmarshal([]byte(state), &job.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state of job %s: %w", job.ID, err)
		}
		job.CreatedAt = time.Unix(createdAt, 0)
		job.UpdatedAt = time.Unix(updatedAt, 0)
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// SaveJobs replaces the persisted job list in one transaction
func (s *SQLiteStore) SaveJobs(ctx context.Context, jobs []*cron.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cron_jobs`); err != nil {
		return fmt.Errorf("failed to clear cron jobs: %w", err)
	}

	for _, job := range jobs {
		scheduleJSON, err := json.Marshal(job.Schedule)
		if err != nil {
			return fmt.Errorf("failed to marshal schedule: %w", err)
		}
		payload, err := json.Marshal(job.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		state, err := json.Marshal(job.State)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cron_jobs
				(id, name, enabled, schedule_json, payload_json, state_json, created_at, updated_at, delete_after_run)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, job.ID, job.Name, job.Enabled, string(scheduleJSON), string(payload), string(state),
			job.CreatedAt.Unix(), job.UpdatedAt.Unix(), job.DeleteAfterRun)
		if err != nil {
			return fmt.Errorf("failed to save cron job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cron jobs: %w", err)
	}
	return nil
}

// === Settings ===

// GetSetting returns a stored value; ok is false when the key is unset
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a value
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}
