//go:build integration
// +build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"spa-gateway/internal/config"
	"spa-gateway/internal/domain"
)

// startPostgres starts a PostgreSQL container for testing
func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	return connStr, func() { container.Terminate(ctx) }
}

// runMigrations creates the sessions schema
func runMigrations(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			token VARCHAR(255) UNIQUE NOT NULL,
			subject VARCHAR(255) NOT NULL,
			username VARCHAR(255) NOT NULL,
			provider VARCHAR(100) NOT NULL,
			id_token TEXT NOT NULL DEFAULT '',
			csrf_token VARCHAR(255) NOT NULL DEFAULT '',
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

func setupRepo(t *testing.T) (*SessionRepository, func()) {
	t.Helper()
	ctx := context.Background()

	connStr, stopContainer := startPostgres(ctx, t)

	db, err := config.NewPostgresConnection(connStr)
	require.NoError(t, err)
	require.NoError(t, runMigrations(db))

	repo, err := NewSessionRepository(db)
	require.NoError(t, err)

	return repo, func() {
		db.Close()
		stopContainer()
	}
}

func testSession(token string) *domain.Session {
	return &domain.Session{
		ID:        "sess-" + token,
		Token:     token,
		Subject:   "sub-1",
		Username:  "alice",
		Provider:  "keycloak",
		IDToken:   "raw.id.token",
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	repo, teardown := setupRepo(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testSession("tok-1")))

	got, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "sub-1", got.Subject)
	assert.Equal(t, "raw.id.token", got.IDToken)
	assert.Empty(t, got.CSRFToken)

	require.NoError(t, repo.Delete(ctx, "tok-1"))

	_, err = repo.GetByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepository_EnsureCSRFToken_FirstWriteWins(t *testing.T) {
	repo, teardown := setupRepo(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testSession("tok-2")))

	winner, err := repo.EnsureCSRFToken(ctx, "tok-2", "csrf-a")
	require.NoError(t, err)
	assert.Equal(t, "csrf-a", winner)

	second, err := repo.EnsureCSRFToken(ctx, "tok-2", "csrf-b")
	require.NoError(t, err)
	assert.Equal(t, "csrf-a", second)
}

func TestSessionRepository_EnsureCSRFToken_Concurrent(t *testing.T) {
	repo, teardown := setupRepo(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testSession("tok-race")))

	const n = 20
	winners := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winner, err := repo.EnsureCSRFToken(ctx, "tok-race", fmt.Sprintf("candidate-%d", i))
			assert.NoError(t, err)
			winners[i] = winner
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, winners[0], winners[i], "all callers must observe one winning token")
	}
}

func TestSessionRepository_ExpiredSessionsInvisible(t *testing.T) {
	repo, teardown := setupRepo(t)
	defer teardown()
	ctx := context.Background()

	expired := testSession("tok-exp")
	expired.ExpiresAt = time.Now().Add(-1 * time.Minute)
	require.NoError(t, repo.Create(ctx, expired))

	_, err := repo.GetByToken(ctx, "tok-exp")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	count, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
