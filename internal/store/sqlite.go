// Package store persists conversation history, sessions, and hard
// rules in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnimind-ai/omnimind/internal/llm"
)

// Session is one conversation thread for a user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HardRule is a standing instruction the user has pinned. Active rules
// are injected into every system prompt for that user.
type HardRule struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// toolMeta is the JSON blob stored in the thought column of tool rows,
// carrying the call id and function name the row answers.
type toolMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store manages all SQLite persistence.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB wraps an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_history (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			thought TEXT,
			tool_calls TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_session ON conversation_history(session_id);

		CREATE TABLE IF NOT EXISTS hard_rules (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			content TEXT NOT NULL,
			is_active INTEGER DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rules_user ON hard_rules(user_id);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			history_summary TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSession creates the session row if it does not exist and bumps
// its updated_at either way.
func (s *Store) EnsureSession(sessionID, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, sessionID, userID, now, now)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// SaveUserMessage appends a user message to the session history.
func (s *Store) SaveUserMessage(sessionID, userID, content string) error {
	return s.saveMessage(sessionID, userID, "user", sqlString(content), "", "")
}

// SaveAssistantMessage appends an assistant message. content may be
// empty when the round produced tool calls and no visible text.
func (s *Store) SaveAssistantMessage(sessionID, userID, content, thought string, toolCalls []llm.ToolCall) error {
	var callsJSON string
	if len(toolCalls) > 0 {
		b, err := json.Marshal(toolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		callsJSON = string(b)
	}
	return s.saveMessage(sessionID, userID, "assistant", sqlString(content), thought, callsJSON)
}

// SaveToolMessage appends a tool result. The call id and function name
// it answers ride along in the thought column as JSON.
func (s *Store) SaveToolMessage(sessionID, userID, callID, name, result string) error {
	meta, err := json.Marshal(toolMeta{ID: callID, Name: name})
	if err != nil {
		return fmt.Errorf("marshal tool meta: %w", err)
	}
	return s.saveMessage(sessionID, userID, "tool", sqlString(result), string(meta), "")
}

func (s *Store) saveMessage(sessionID, userID, role string, content sql.NullString, thought, callsJSON string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO conversation_history (id, session_id, user_id, role, content, thought, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), sessionID, userID, role, content,
		sqlString(thought), sqlString(callsJSON),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetHistory returns the session's messages in insertion order,
// reconstructed into provider shape. Structurally empty non-tool rows
// (no content, no thought, no tool calls) are filtered out, matching
// what would be rejected upstream anyway.
func (s *Store) GetHistory(sessionID string, limit int) ([]llm.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT role, content, thought, tool_calls
		FROM conversation_history
		WHERE session_id = ?
		AND (
			role = 'tool'
			OR (content IS NOT NULL AND trim(content) != '')
			OR (thought IS NOT NULL AND trim(thought) != '')
			OR (tool_calls IS NOT NULL AND trim(tool_calls) != '')
		)
		ORDER BY rowid ASC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []llm.Message
	for rows.Next() {
		var role string
		var content, thought, callsJSON sql.NullString
		if err := rows.Scan(&role, &content, &thought, &callsJSON); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}

		m := llm.Message{Role: role}
		if content.Valid {
			m.Content = content.String
		}

		switch role {
		case "assistant":
			m.ReasoningContent = thought.String
			if callsJSON.Valid && callsJSON.String != "" {
				// A row with unreadable tool calls is kept as plain text.
				_ = json.Unmarshal([]byte(callsJSON.String), &m.ToolCalls)
			}
		case "tool":
			var meta toolMeta
			if strings.HasPrefix(thought.String, "{") && json.Unmarshal([]byte(thought.String), &meta) == nil {
				m.ToolCallID = meta.ID
				m.Name = meta.Name
			} else {
				m.ToolCallID = thought.String
			}
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// ListSessions returns the user's sessions, most recently active first.
func (s *Store) ListSessions(userID string) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, created_at, updated_at
		FROM sessions WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var title sql.NullString
		var createdStr, updatedStr string
		if err := rows.Scan(&sess.ID, &sess.UserID, &title, &createdStr, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Title = title.String
		sess.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetSessionTitle overwrites the session title. Idempotent.
func (s *Store) SetSessionTitle(sessionID, title string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now().UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

// GetSessionTitle returns the session title, empty when unset or the
// session is unknown.
func (s *Store) GetSessionTitle(sessionID string) (string, error) {
	var title sql.NullString
	err := s.db.QueryRow(`SELECT title FROM sessions WHERE id = ?`, sessionID).Scan(&title)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get title: %w", err)
	}
	return title.String, nil
}

// GetHistorySummary returns the cached compression summary for the
// session, empty when none exists.
func (s *Store) GetHistorySummary(sessionID string) (string, error) {
	var summary sql.NullString
	err := s.db.QueryRow(`SELECT history_summary FROM sessions WHERE id = ?`, sessionID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	return summary.String, nil
}

// SaveHistorySummary caches the compression summary. Idempotent.
func (s *Store) SaveHistorySummary(sessionID, summary string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET history_summary = ? WHERE id = ?
	`, summary, sessionID)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// ClearSession removes the session row and all of its history. Rules
// pinned to the session go with it; user-wide rules stay.
func (s *Store) ClearSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversation_history WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM hard_rules WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session rules: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// AddHardRule pins a rule for the user. sessionID may be empty for a
// user-wide rule.
func (s *Store) AddHardRule(userID, sessionID, content string) (*HardRule, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO hard_rules (id, user_id, session_id, content, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, id.String(), userID, sqlString(sessionID), content, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return &HardRule{
		ID:        id.String(),
		UserID:    userID,
		SessionID: sessionID,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// ListHardRules returns the user's active rules, oldest first.
func (s *Store) ListHardRules(userID string) ([]HardRule, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, session_id, content, created_at
		FROM hard_rules WHERE user_id = ? AND is_active = 1
		ORDER BY created_at ASC, rowid ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []HardRule
	for rows.Next() {
		var r HardRule
		var sessionID sql.NullString
		var createdStr string
		if err := rows.Scan(&r.ID, &r.UserID, &sessionID, &r.Content, &createdStr); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.SessionID = sessionID.String
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteHardRule removes a rule by id.
func (s *Store) DeleteHardRule(id string) error {
	result, err := s.db.Exec(`DELETE FROM hard_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

// sqlString maps empty strings to NULL so the structural-empty filter
// in GetHistory sees them as absent.
func sqlString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
