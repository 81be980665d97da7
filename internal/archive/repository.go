package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/zifrone/contact/internal/metrics"
)

// ErrRecordNotFound is returned when no archived submission has the given id
var ErrRecordNotFound = errors.New("archived submission not found")

// Record is one archived submission row
type Record struct {
	ID         string    `db:"id"`
	ReceivedAt time.Time `db:"received_at"`
	Name       string    `db:"name"`
	Email      string    `db:"email"`
	Company    string    `db:"company"`
	WhatsApp   string    `db:"whatsapp"`
	Subject    string    `db:"subject"`
	Message    string    `db:"message"`
	ClientHash string    `db:"client_hash"`
	UserAgent  string    `db:"user_agent"`
	Referer    string    `db:"referer"`
	MessageKey string    `db:"message_key"`
	CreatedAt  time.Time `db:"created_at"`
}

// RecordStore persists archived submissions
type RecordStore interface {
	Insert(ctx context.Context, rec *Record) error
}

// Repository stores archived submissions in PostgreSQL
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new Repository instance
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to the archive database through the pgx stdlib driver
func Open(ctx context.Context, url string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Insert writes one row. Inserting an id twice is a no-op.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	defer metrics.TimeQuery("insert_submission")()

	query := `
		INSERT INTO submissions (id, received_at, name, email, company, whatsapp, subject,
		                         message, client_hash, user_agent, referer, message_key)
		VALUES (:id, :received_at, :name, :email, :company, :whatsapp, :subject,
		        :message, :client_hash, :user_agent, :referer, :message_key)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// GetByID returns one archived submission
func (r *Repository) GetByID(ctx context.Context, id string) (*Record, error) {
	defer metrics.TimeQuery("get_submission")()

	query := `
		SELECT id, received_at, name, email, company, whatsapp, subject, message,
		       client_hash, user_agent, referer, message_key, created_at
		FROM submissions
		WHERE id = $1
	`
	var rec Record
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &rec, nil
}

// DeleteBefore removes rows received before t and returns one message key
// per deleted row. Rows without a stored message yield an empty key.
func (r *Repository) DeleteBefore(ctx context.Context, t time.Time) ([]string, error) {
	defer metrics.TimeQuery("delete_submissions")()

	var keys []string
	err := r.db.SelectContext(ctx, &keys,
		`DELETE FROM submissions WHERE received_at < $1 RETURNING message_key`, t)
	if err != nil {
		return nil, fmt.Errorf("failed to delete submissions: %w", err)
	}
	return keys, nil
}
