// Package testhelpers provides utilities for integration testing against a
// real PostgreSQL database.
package testhelpers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/database"
)

// PostgresImage is the image used for integration tests. The contrib
// extensions (unaccent, fuzzystrmatch) ship with it.
const PostgresImage = "postgres:16-alpine"

// EngineDB holds the engine database connection with migrations applied.
// Use this for testing services and repositories against a real database.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared engine database for integration tests.
// The container is created once, migrated, and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

const (
	testDatabase = "planwatch_test"
	testUser     = "planwatch"
	testPassword = "test_password"
)

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	// Throwaway data: keep it in memory and skip fsync.
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        PostgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Cmd:          []string{"postgres", "-c", "fsync=off", "-c", "full_page_writes=off"},
			Tmpfs:        map[string]string{"/var/lib/postgresql/data": "rw"},
			Env: map[string]string{
				"POSTGRES_DB":       testDatabase,
				"POSTGRES_USER":     testUser,
				"POSTGRES_PASSWORD": testPassword,
			},
			// The init phase restarts the server once, hence two ready lines.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve postgres endpoint: %w", err)
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", testUser, testPassword, endpoint, testDatabase)

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             connStr,
		MaxConnections:  5,
		ApplicationName: "planwatch-test",
		ConnectAttempts: 10,
		ConnectBackoff:  500 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	if err := database.MigrateURL(connStr, MigrationsPath(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// Context returns a context carrying a database scope on the engine database.
// The connection is released when the test finishes.
func (e *EngineDB) Context(t *testing.T) context.Context {
	t.Helper()

	scope, err := e.DB.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Failed to acquire connection: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetScope(context.Background(), scope)
}

// Truncate empties the given tables, resetting identities.
func (e *EngineDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()

	for _, table := range tables {
		if _, err := e.DB.Pool.Exec(context.Background(), "TRUNCATE "+table+" RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
}

// AllTables lists the engine tables in an order safe for truncation.
var AllTables = []string{
	"deliveries", "subscriptions", "users", "case_entities", "entities",
	"attachments", "responses", "minutes", "cases", "addresses",
	"meetings", "councils", "municipalities",
}
