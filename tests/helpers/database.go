// Package helpers contains shared utilities for the integration tests. The
// database helper spawns a single PostgreSQL testcontainer per test binary,
// migrates a template database against it, and hands each caller a fresh
// database cloned from that template so tests never see each other's rows.
package helpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	databaseUser     = "postgres"
	databasePassword = "postgres"
	templateDatabase = "carrot_template"
	postgresImage    = "docker.io/postgres:14.1-alpine"
)

var pool *testDatabasePool

type testDatabasePool struct {
	container *postgres.PostgresContainer
	host      string
	port      string
	admin     *sqlx.DB
	spawnErr  error
	sequence  int
}

// ProvisionTestDatabase returns a connection to a brand new database,
// freshly cloned from the migrated template. The backing container is
// started lazily on first use and shared by all tests in the binary.
// Tests which use this helper are skipped when -short is set.
func ProvisionTestDatabase(t *testing.T) *sqlx.DB {
	if testing.Short() {
		t.Skip("skipping database-backed test in short mode")
	}

	if pool == nil {
		pool = &testDatabasePool{}
		pool.spawn(t)
	}
	if pool.spawnErr != nil {
		t.Fatalf("failed to spawn test database container: %s", pool.spawnErr.Error())
	}

	pool.sequence++
	databaseName := fmt.Sprintf("carrot_test_%d_%d", time.Now().UnixNano(), pool.sequence)
	if _, err := pool.admin.Exec(fmt.Sprintf(`CREATE DATABASE %s TEMPLATE %s`, databaseName, templateDatabase)); err != nil {
		t.Fatalf("failed to provision test database %s: %s", databaseName, err.Error())
	}

	db, err := sqlx.Connect(database.SqlDialect, pool.connectionString(databaseName))
	if err != nil {
		t.Fatalf("failed to connect to provisioned database %s: %s", databaseName, err.Error())
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// spawn brings up the shared postgres container, runs the schema
// migrations against the template database, and then detaches from it so
// the template can be cloned. Failures are sticky; every subsequent
// caller fails fast rather than re-attempting the container spawn.
func (pool *testDatabasePool) spawn(t *testing.T) {
	ctx := context.Background()
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(postgresImage),
		postgres.WithDatabase(templateDatabase),
		postgres.WithUsername(databaseUser),
		postgres.WithPassword(databasePassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		pool.spawnErr = err
		return
	}
	pool.container = container

	host, err := container.Host(ctx)
	if err != nil {
		pool.spawnErr = err
		return
	}
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		pool.spawnErr = err
		return
	}
	pool.host = host
	pool.port = mappedPort.Port()

	if err := pool.migrateTemplate(); err != nil {
		pool.spawnErr = err
		return
	}

	admin, err := sqlx.Connect(database.SqlDialect, pool.connectionString("postgres"))
	if err != nil {
		pool.spawnErr = err
		return
	}
	pool.admin = admin

	t.Cleanup(func() {
		admin.Close()
		container.Terminate(context.Background())
		pool = nil
	})
}

// migrateTemplate connects the worker's own database manager to the
// template database, which applies the embedded goose migrations, and
// then disconnects so CREATE DATABASE ... TEMPLATE is permitted.
func (pool *testDatabasePool) migrateTemplate() error {
	manager := database.New()
	if err := manager.Connect(database.DatabaseConfig{
		User:     databaseUser,
		Password: databasePassword,
		Name:     templateDatabase,
		Host:     pool.host,
		Port:     pool.port,
	}); err != nil {
		return fmt.Errorf("failed to migrate template database: %w", err)
	}

	return manager.GetSqlxDb().Close()
}

func (pool *testDatabasePool) connectionString(databaseName string) string {
	return fmt.Sprintf(database.SqlConnectionString, pool.host, databaseUser, databasePassword, databaseName, pool.port)
}
