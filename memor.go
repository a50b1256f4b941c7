// Package memor is a relational data-access layer with declarative entity
// manifests, a fluent Postgres query builder and built-in wiki-style
// multi-revision versioning: every edit of a document archives the previous
// row, and reads transparently see only the current revision.
//
// A Client owns the storage driver and the manifest registry. Entities are
// declared as schema.Manifest values and registered once at bootstrap;
// model.Set is the per-entity handle exposing the typed filter facade,
// relations and the revision lifecycle.
package memor

import (
	"context"
	stdsql "database/sql"

	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/syssam/memor/dialect"
	"github.com/syssam/memor/dialect/sql"
	"github.com/syssam/memor/schema"
)

// Client is the top-level handle of the data-access layer. It owns the
// driver, the manifest registry and the construction-time config. Registry
// lifecycle follows the client: populated between Open and Close, never a
// package-level singleton.
type Client struct {
	drv      dialect.Driver
	registry *schema.Registry
	cfg      Config
}

// Open connects to the configured DSN and returns a ready client.
func Open(cfg Config, opts ...Option) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	drv, err := sql.Open(dialect.Postgres, cfg.DSN)
	if err != nil {
		return nil, Translate(err)
	}
	return newClient(drv, cfg), nil
}

// OpenDB wraps an existing database handle. Useful for sharing a pool with
// other layers and for sqlmock-backed tests.
func OpenDB(db *stdsql.DB, cfg Config, opts ...Option) *Client {
	for _, opt := range opts {
		opt(&cfg)
	}
	return newClient(sql.OpenDB(dialect.Postgres, db), cfg)
}

func newClient(drv dialect.Driver, cfg Config) *Client {
	if cfg.SlowQueryThreshold > 0 {
		drv = sql.NewStatsDriver(drv,
			sql.WithSlowThreshold(cfg.SlowQueryThreshold),
			sql.WithSlowQueryLog(),
		)
	}
	return &Client{
		drv:      drv,
		registry: schema.NewRegistry(schema.RegistryOptions{RevisionSummary: cfg.RevisionSummary}),
		cfg:      cfg,
	}
}

// Driver returns the storage driver.
func (c *Client) Driver() dialect.Driver { return c.drv }

// Registry returns the manifest registry owned by this client.
func (c *Client) Registry() *schema.Registry { return c.registry }

// RevisionSummary reports whether revision-enabled manifests registered on
// this client carry the optional summary field.
func (c *Client) RevisionSummary() bool { return c.cfg.RevisionSummary }

// Register registers the given manifests on this client's registry.
func (c *Client) Register(manifests ...*schema.Manifest) error {
	for _, m := range manifests {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Tx starts a transaction on the underlying driver. The revision engine
// never opens transactions itself; callers needing atomicity across the
// archive-then-restamp sequence scope it here.
func (c *Client) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := c.drv.Tx(ctx)
	if err != nil {
		return nil, Translate(err)
	}
	return tx, nil
}

// Close clears the registry and closes the driver.
func (c *Client) Close() error {
	c.registry.Clear()
	return c.drv.Close()
}
