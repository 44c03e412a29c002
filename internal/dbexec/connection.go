package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/LerianStudio/person-data-store/internal/obs/log"
)

// Connection is a hub that deals with Postgres connections, grounded on
// common/mpostgres.PostgresConnection: it owns a primary/replica pair
// behind dbresolver and runs migrations against the primary on connect.
type Connection struct {
	PrimaryDSN     string
	ReplicaDSN     string
	PrimaryDBName  string
	MigrationsPath string
	Logger         log.Logger

	db        dbresolver.DB
	connected bool
}

// Connect opens the primary and replica pools and runs pending migrations.
func (c *Connection) Connect(ctx context.Context) error {
	c.Logger.Info("connecting to postgres primary and replica...")

	primary, err := sql.Open("pgx", c.PrimaryDSN)
	if err != nil {
		return fmt.Errorf("open primary: %w", err)
	}

	replicaDSN := c.ReplicaDSN
	if replicaDSN == "" {
		replicaDSN = c.PrimaryDSN
	}

	replica, err := sql.Open("pgx", replicaDSN)
	if err != nil {
		return fmt.Errorf("open replica: %w", err)
	}

	resolved := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if c.MigrationsPath != "" {
		if err := c.migrate(primary); err != nil {
			return err
		}
	}

	if err := resolved.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	c.db = resolved
	c.connected = true

	c.Logger.Info("connected to postgres")

	return nil
}

func (c *Connection) migrate(primary *sql.DB) error {
	driver, err := postgres.WithInstance(primary, &postgres.Config{
		MultiStatementEnabled: true,
		DatabaseName:          c.PrimaryDBName,
		SchemaName:            "public",
	})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+c.MigrationsPath, c.PrimaryDBName, driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Pool returns the resolved primary/replica handle, connecting on first use.
func (c *Connection) Pool(ctx context.Context) (dbresolver.DB, error) {
	if !c.connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.db, nil
}

// PooledExecutor returns a Pooled *Executor over this connection.
func (c *Connection) PooledExecutor(ctx context.Context) (*Executor, error) {
	pool, err := c.Pool(ctx)
	if err != nil {
		return nil, err
	}

	return NewPooled(pool), nil
}

// BeginTx starts a transaction against the primary. dbresolver.DB mirrors
// *sql.DB's surface and proxies writes (including BeginTx) to the primary
// member, so this is the one call in the session that must go through the
// resolver rather than a load-balanced statement.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	pool, err := c.Pool(ctx)
	if err != nil {
		return nil, err
	}

	return pool.BeginTx(ctx, opts)
}
