package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"spa-gateway/internal/domain"
)

// SessionRepository is the optional persistent session store. It is a
// single-node convenience (sessions survive a gateway restart), not a
// clustering mechanism.
type SessionRepository struct {
	db             *sql.DB
	createStmt     *sql.Stmt
	getByTokenStmt *sql.Stmt
	setCSRFStmt    *sql.Stmt
	getCSRFStmt    *sql.Stmt
	deleteStmt     *sql.Stmt
	deleteExpired  *sql.Stmt
}

// NewSessionRepository creates a new SessionRepository with prepared statements.
// Returns an error if statement preparation fails.
func NewSessionRepository(db *sql.DB) (*SessionRepository, error) {
	repo := &SessionRepository{db: db}

	var err error
	repo.createStmt, err = db.Prepare(`
		INSERT INTO sessions (id, token, subject, username, provider, id_token, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare create statement: %w", err)
	}

	repo.getByTokenStmt, err = db.Prepare(`
		SELECT id, token, subject, username, provider, id_token, csrf_token, expires_at, created_at
		FROM sessions
		WHERE token = $1 AND expires_at > $2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare getByToken statement: %w", err)
	}

	// First writer wins: the UPDATE only lands while csrf_token is still
	// empty, losers re-read the winning value below.
	repo.setCSRFStmt, err = db.Prepare(`
		UPDATE sessions SET csrf_token = $1
		WHERE token = $2 AND csrf_token = ''
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare setCSRF statement: %w", err)
	}

	repo.getCSRFStmt, err = db.Prepare(`
		SELECT csrf_token FROM sessions WHERE token = $1 AND expires_at > $2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare getCSRF statement: %w", err)
	}

	repo.deleteStmt, err = db.Prepare(`DELETE FROM sessions WHERE token = $1`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	repo.deleteExpired, err = db.Prepare(`DELETE FROM sessions WHERE expires_at <= $1`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare deleteExpired statement: %w", err)
	}

	return repo, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	err := r.createStmt.QueryRowContext(ctx,
		session.ID,
		session.Token,
		session.Subject,
		session.Username,
		session.Provider,
		session.IDToken,
		session.ExpiresAt,
	).Scan(&session.CreatedAt)

	if err != nil {
		if IsTokenCollision(err) {
			return fmt.Errorf("session token collision: %w", err)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	session := &domain.Session{}
	err := r.getByTokenStmt.QueryRowContext(ctx, token, time.Now()).Scan(
		&session.ID,
		&session.Token,
		&session.Subject,
		&session.Username,
		&session.Provider,
		&session.IDToken,
		&session.CSRFToken,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}
	return session, nil
}

// EnsureCSRFToken installs candidate as the session's CSRF token if none is
// set and returns the winning value regardless of who set it.
func (r *SessionRepository) EnsureCSRFToken(ctx context.Context, sessionToken, candidate string) (string, error) {
	if _, err := r.setCSRFStmt.ExecContext(ctx, candidate, sessionToken); err != nil {
		return "", fmt.Errorf("failed to set csrf token: %w", err)
	}

	var winner string
	err := r.getCSRFStmt.QueryRowContext(ctx, sessionToken, time.Now()).Scan(&winner)
	if err == sql.ErrNoRows {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read csrf token: %w", err)
	}
	return winner, nil
}

func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	_, err := r.deleteStmt.ExecContext(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.deleteExpired.ExecContext(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}
