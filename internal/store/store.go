package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for newsletter entities
type Store struct {
	db *sql.DB
}

// NewStore creates a new store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a user together with its initial feedback entry in one
// transaction. Returns the existing user unchanged if the email is already
// registered (signup is idempotent per address).
func (s *Store) CreateUser(ctx context.Context, email, prompt string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	user := &User{
		ID:        uuid.New(),
		Email:     email,
		Prompt:    prompt,
		Active:    true,
		CreatedAt: time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin signup tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, prompt, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Prompt, user.Active, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feedback_entries (id, user_id, body, source, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), user.ID, prompt, SourceInitial, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert initial feedback: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit signup tx: %w", err)
	}
	return user, nil
}

// GetActiveUsers returns all users eligible for the next batch run
func (s *Store) GetActiveUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, prompt, active, created_at FROM users WHERE active = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.Prompt, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUserByID retrieves a user by its opaque identifier.
// Returns (nil, nil) when no such user exists.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, prompt, active, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Prompt, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetUserByEmail retrieves a user by mail address.
// Returns (nil, nil) when no such user exists.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, prompt, active, created_at FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email))).
		Scan(&u.ID, &u.Email, &u.Prompt, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// DeactivateUser flips the active flag. The row itself is never deleted.
func (s *Store) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendFeedback stores one feedback entry for a user
func (s *Store) AppendFeedback(ctx context.Context, userID uuid.UUID, body string, source FeedbackSource) (*FeedbackEntry, error) {
	entry := &FeedbackEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Body:      body,
		Source:    source,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_entries (id, user_id, body, source, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.Body, entry.Source, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert feedback: %w", err)
	}
	return entry, nil
}

// GetFeedbackHistory returns the initial entry followed by the most recent
// replyLimit reply entries in chronological order. The bound is applied in
// SQL so an old account with thousands of replies never loads them all.
func (s *Store) GetFeedbackHistory(ctx context.Context, userID uuid.UUID, replyLimit int) ([]*FeedbackEntry, error) {
	var history []*FeedbackEntry

	initial := &FeedbackEntry{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, body, source, created_at FROM feedback_entries
		 WHERE user_id = $1 AND source = 'initial' ORDER BY created_at LIMIT 1`, userID).
		Scan(&initial.ID, &initial.UserID, &initial.Body, &initial.Source, &initial.CreatedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query initial feedback: %w", err)
	}
	if err == nil {
		history = append(history, initial)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, body, source, created_at FROM (
			SELECT id, user_id, body, source, created_at FROM feedback_entries
			WHERE user_id = $1 AND source = 'reply'
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at`, userID, replyLimit)
	if err != nil {
		return nil, fmt.Errorf("query reply feedback: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &FeedbackEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Body, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

// CreateNewsletterRecord inserts a pending record at the start of a user's
// processing and returns its ID
func (s *Store) CreateNewsletterRecord(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO newsletter_records (id, user_id, status, generation_started_at) VALUES ($1, $2, $3, $4)`,
		id, userID, StatusPending, time.Now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert newsletter record: %w", err)
	}
	return id, nil
}

// MarkNewsletterSent transitions a record pending→sent with the delivered body
func (s *Store) MarkNewsletterSent(ctx context.Context, recordID uuid.UUID, body string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_records SET status = $2, body = $3, delivered_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		recordID, StatusSent, body, time.Now())
	if err != nil {
		return fmt.Errorf("mark newsletter sent: %w", err)
	}
	return nil
}

// MarkNewsletterFailed transitions a record pending→failed with the classified reason
func (s *Store) MarkNewsletterFailed(ctx context.Context, recordID uuid.UUID, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_records SET status = $2, error_detail = $3
		 WHERE id = $1 AND status = 'pending'`,
		recordID, StatusFailed, detail)
	if err != nil {
		return fmt.Errorf("mark newsletter failed: %w", err)
	}
	return nil
}
