package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tutorstack/mathchat/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		feedback_needed INTEGER NOT NULL DEFAULT 0,
		interacted_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		thread_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(user_id, thread_key, id);

	CREATE TABLE IF NOT EXISTS used_problems (
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		problem_id TEXT NOT NULL,
		used_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, category, problem_id)
	);

	CREATE TABLE IF NOT EXISTS interacted_threads (
		user_id TEXT NOT NULL,
		thread_key TEXT NOT NULL,
		counted_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, thread_key)
	);

	CREATE TABLE IF NOT EXISTS last_problems (
		user_id TEXT NOT NULL,
		thread_key TEXT NOT NULL,
		problem_text TEXT NOT NULL DEFAULT '',
		problem_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, thread_key)
	);

	CREATE TABLE IF NOT EXISTS problems (
		problem_id TEXT NOT NULL,
		category TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		hints_json TEXT,
		correct_answer TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (category, problem_id)
	);
	CREATE INDEX IF NOT EXISTS idx_problems_topic ON problems(category, topic);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS feature_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user session by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.UserSession, error) {
	query := `
		SELECT user_id, feedback_needed, interacted_count, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.UserSession
	var feedbackNeeded int
	var createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &feedbackNeeded, &user.InteractedCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.FeedbackNeeded = feedbackNeeded != 0
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// GetOrCreateUser retrieves a user session, inserting a fresh one on first
// access. The insert happens immediately, not lazily on first write.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, userID string) (*domain.UserSession, error) {
	now := time.Now().Unix()
	query := `
		INSERT INTO users (user_id, feedback_needed, interacted_count, created_at, updated_at)
		VALUES (?, 0, 0, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, userID, now, now); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s missing after insert", userID)
	}
	return user, nil
}

// SetFeedbackNeeded sets or clears the sticky feedback flag.
func (s *SQLiteStore) SetFeedbackNeeded(ctx context.Context, userID string, needed bool) error {
	flag := 0
	if needed {
		flag = 1
	}
	query := `UPDATE users SET feedback_needed = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, flag, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update feedback_needed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetFeedbackNeeded affected 0 rows", "user_id", userID)
	}
	return nil
}

// AppendMessage appends one message to the (userID, threadKey) ledger. The
// user session row is created when absent so the append never fails merely
// because the user was unknown.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID, threadKey string, role domain.Role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	ensure := `
		INSERT INTO users (user_id, feedback_needed, interacted_count, created_at, updated_at)
		VALUES (?, 0, 0, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ensure, userID, now, now); err != nil {
		return fmt.Errorf("ensure user row: %w", err)
	}

	insert := `INSERT INTO messages (user_id, thread_key, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, threadKey, string(role), content, now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

// GetMessages returns the thread ledger in insertion order.
func (s *SQLiteStore) GetMessages(ctx context.Context, userID, threadKey string) ([]domain.ConversationMessage, error) {
	query := `
		SELECT id, role, content, created_at
		FROM messages WHERE user_id = ? AND thread_key = ?
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, userID, threadKey)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.ConversationMessage
	for rows.Next() {
		var m domain.ConversationMessage
		var role string
		var createdAt int64
		if err := rows.Scan(&m.Seq, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.ThreadKey = threadKey
		m.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// CountUserMessages returns how many user-role messages the thread holds.
func (s *SQLiteStore) CountUserMessages(ctx context.Context, userID, threadKey string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE user_id = ? AND thread_key = ? AND role = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, query, userID, threadKey, string(domain.RoleUser)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count user messages: %w", err)
	}
	return n, nil
}

// SetLastProblemText records the rendered problem text last shown in a thread.
func (s *SQLiteStore) SetLastProblemText(ctx context.Context, userID, threadKey, text string) error {
	query := `
		INSERT INTO last_problems (user_id, thread_key, problem_text, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, thread_key) DO UPDATE SET
			problem_text = excluded.problem_text,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, threadKey, text, time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert last problem text: %w", err)
	}
	return nil
}

// SetLastProblemMeta records the catalog id and tier last shown in a thread.
func (s *SQLiteStore) SetLastProblemMeta(ctx context.Context, userID, threadKey, problemID string, category domain.Category) error {
	query := `
		INSERT INTO last_problems (user_id, thread_key, problem_id, category, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, thread_key) DO UPDATE SET
			problem_id = excluded.problem_id,
			category = excluded.category,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, threadKey, problemID, string(category), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert last problem meta: %w", err)
	}
	return nil
}

// GetLastProblem returns the thread's last-shown problem record.
func (s *SQLiteStore) GetLastProblem(ctx context.Context, userID, threadKey string) (*domain.LastProblem, error) {
	query := `
		SELECT problem_text, problem_id, category
		FROM last_problems WHERE user_id = ? AND thread_key = ?`

	row := s.db.QueryRowContext(ctx, query, userID, threadKey)

	var lp domain.LastProblem
	var category string
	err := row.Scan(&lp.Text, &lp.ProblemID, &category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan last problem: %w", err)
	}
	lp.ThreadKey = threadKey
	lp.Category = domain.Category(category)
	return &lp, nil
}

// NextUnusedProblem selects the first unserved problem for the user in the
// tier and marks it used inside the same transaction. Concurrent calls for
// the same user cannot hand out the same problem twice: the mark is part of
// the selection, not a follow-up write.
func (s *SQLiteStore) NextUnusedProblem(ctx context.Context, userID string, category domain.Category, topic string) (*domain.Problem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cursor tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT problem_id, category, topic, body, hints_json, correct_answer
		FROM problems
		WHERE category = ? AND (? = '' OR topic = ?)
		AND problem_id NOT IN (
			SELECT problem_id FROM used_problems WHERE user_id = ? AND category = ?
		)
		ORDER BY problem_id
		LIMIT 1`

	row := tx.QueryRowContext(ctx, query, string(category), topic, topic, userID, string(category))
	p, err := scanProblem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan next problem: %w", err)
	}

	mark := `
		INSERT INTO used_problems (user_id, category, problem_id, used_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, category, problem_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, mark, userID, string(category), p.ID, time.Now().Unix()); err != nil {
		return nil, fmt.Errorf("mark problem used: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cursor tx: %w", err)
	}
	return p, nil
}

// MarkProblemUsed adds a problem id to the user's exclusion set. Idempotent.
func (s *SQLiteStore) MarkProblemUsed(ctx context.Context, userID string, category domain.Category, problemID string) error {
	query := `
		INSERT INTO used_problems (user_id, category, problem_id, used_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, category, problem_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, userID, string(category), problemID, time.Now().Unix()); err != nil {
		return fmt.Errorf("mark problem used: %w", err)
	}
	return nil
}

// UsedProblems returns the user's exclusion set for the tier.
func (s *SQLiteStore) UsedProblems(ctx context.Context, userID string, category domain.Category) (map[string]bool, error) {
	query := `SELECT problem_id FROM used_problems WHERE user_id = ? AND category = ?`
	rows, err := s.db.QueryContext(ctx, query, userID, string(category))
	if err != nil {
		return nil, fmt.Errorf("query used problems: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close used problem rows", "error", closeErr)
		}
	}()

	used := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan used problem row: %w", err)
		}
		used[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate used problems: %w", err)
	}
	return used, nil
}

// MarkThreadInteracted records the thread's engagement-threshold crossing at
// most once ever. The insert and the counter increment share one transaction;
// RowsAffected on the conditional insert decides whether the increment runs,
// so concurrent replays cannot double-count.
func (s *SQLiteStore) MarkThreadInteracted(ctx context.Context, userID, threadKey string) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin interact tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	ensure := `
		INSERT INTO users (user_id, feedback_needed, interacted_count, created_at, updated_at)
		VALUES (?, 0, 0, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ensure, userID, now, now); err != nil {
		return false, 0, fmt.Errorf("ensure user row: %w", err)
	}

	mark := `
		INSERT INTO interacted_threads (user_id, thread_key, counted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, thread_key) DO NOTHING`
	result, err := tx.ExecContext(ctx, mark, userID, threadKey, now)
	if err != nil {
		return false, 0, fmt.Errorf("mark thread interacted: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("get rows affected: %w", err)
	}

	var count int
	if rows == 0 {
		// Already counted; report the current value without incrementing.
		if err := tx.QueryRowContext(ctx, `SELECT interacted_count FROM users WHERE user_id = ?`, userID).Scan(&count); err != nil {
			return false, 0, fmt.Errorf("read interacted count: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, 0, fmt.Errorf("commit interact tx: %w", err)
		}
		return false, count, nil
	}

	bump := `UPDATE users SET interacted_count = interacted_count + 1, updated_at = ? WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, bump, now, userID); err != nil {
		return false, 0, fmt.Errorf("increment interacted count: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT interacted_count FROM users WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return false, 0, fmt.Errorf("read interacted count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit interact tx: %w", err)
	}
	return true, count, nil
}

// InteractedThreads returns thread keys already counted toward feedback.
func (s *SQLiteStore) InteractedThreads(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT thread_key FROM interacted_threads WHERE user_id = ? ORDER BY counted_at, thread_key`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query interacted threads: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close interacted thread rows", "error", closeErr)
		}
	}()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan interacted thread row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interacted threads: %w", err)
	}
	return keys, nil
}

// ListProblems returns catalog problems for a tier in stable id order.
func (s *SQLiteStore) ListProblems(ctx context.Context, category domain.Category, topic string) ([]domain.Problem, error) {
	query := `
		SELECT problem_id, category, topic, body, hints_json, correct_answer
		FROM problems
		WHERE category = ? AND (? = '' OR topic = ?)
		ORDER BY problem_id`

	rows, err := s.db.QueryContext(ctx, query, string(category), topic, topic)
	if err != nil {
		return nil, fmt.Errorf("query problems: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close problem rows", "error", closeErr)
		}
	}()

	var problems []domain.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan problem row: %w", err)
		}
		problems = append(problems, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate problems: %w", err)
	}
	return problems, nil
}

// GetProblem looks a problem up by tier and id.
func (s *SQLiteStore) GetProblem(ctx context.Context, category domain.Category, problemID string) (*domain.Problem, error) {
	query := `
		SELECT problem_id, category, topic, body, hints_json, correct_answer
		FROM problems WHERE category = ? AND problem_id = ?`

	row := s.db.QueryRowContext(ctx, query, string(category), problemID)
	p, err := scanProblem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan problem: %w", err)
	}
	return p, nil
}

// FindProblem looks a problem up by id across all tiers in stable tier order.
func (s *SQLiteStore) FindProblem(ctx context.Context, problemID string) (*domain.Problem, error) {
	for _, category := range domain.Categories() {
		p, err := s.GetProblem(ctx, category, problemID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// InsertProblems seeds catalog records, leaving existing ids untouched.
func (s *SQLiteStore) InsertProblems(ctx context.Context, problems []domain.Problem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO problems (problem_id, category, topic, body, hints_json, correct_answer)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, problem_id) DO NOTHING`

	for i := range problems {
		p := &problems[i]
		var hintsJSON interface{}
		if len(p.Hints) > 0 {
			raw, err := json.Marshal(p.Hints)
			if err != nil {
				return fmt.Errorf("marshal hints for %s: %w", p.ID, err)
			}
			hintsJSON = string(raw)
		}
		if _, err := tx.ExecContext(ctx, query, p.ID, string(p.Category), p.Topic, p.Body, hintsJSON, p.CorrectAnswer); err != nil {
			return fmt.Errorf("insert problem %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}

// CountProblems returns the catalog size across all tiers.
func (s *SQLiteStore) CountProblems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problems`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count problems: %w", err)
	}
	return n, nil
}

// InsertFeedback stores a survey submission.
func (s *SQLiteStore) InsertFeedback(ctx context.Context, fb *domain.Feedback) error {
	query := `INSERT INTO feedback (id, user_id, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, fb.ID, fb.UserID, fb.Content, fb.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// InsertFeatureRequest stores a product suggestion.
func (s *SQLiteStore) InsertFeatureRequest(ctx context.Context, fr *domain.FeatureRequest) error {
	query := `INSERT INTO feature_requests (id, user_id, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, fr.ID, fr.UserID, fr.Content, fr.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert feature request: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProblem(row rowScanner) (*domain.Problem, error) {
	var p domain.Problem
	var category string
	var hintsJSON sql.NullString

	err := row.Scan(&p.ID, &category, &p.Topic, &p.Body, &hintsJSON, &p.CorrectAnswer)
	if err != nil {
		return nil, err
	}
	p.Category = domain.Category(category)

	if hintsJSON.Valid && hintsJSON.String != "" {
		if err := json.Unmarshal([]byte(hintsJSON.String), &p.Hints); err != nil {
			return nil, fmt.Errorf("unmarshal hints: %w", err)
		}
	}
	return &p, nil
}
