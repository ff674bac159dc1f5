package schema

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// Following PostgREST's notification convention
	// https://docs.postgrest.org/en/stable/references/schema_cache.html
	ReloadChannel = "pgcrud"
	ReloadPayload = "reload schema"
)

// Cache keeps an introspected PostgreSQL model in memory and reloads it when
// "reload schema" is notified on the ReloadChannel.
type Cache struct {
	pool      *pgxpool.Pool
	conn      *pgx.Conn
	tables    Tables
	relations map[string][]Relation
	schemas   []string
	watch     chan Tables
	cancel    context.CancelFunc
	logger    *zap.Logger
	mu        sync.RWMutex
}

type CacheOption func(*Cache)

func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithSchemas restricts introspection to the given schemas.
func WithSchemas(schemas ...string) CacheOption {
	return func(c *Cache) {
		c.schemas = schemas
	}
}

// WithRelations adds declared relations, keyed by table, on every load.
func WithRelations(relations map[string][]Relation) CacheOption {
	return func(c *Cache) {
		c.relations = relations
	}
}

// NewCache connects to PostgreSQL. Init performs the first load.
func NewCache(ctx context.Context, pool *pgxpool.Pool, opts ...CacheOption) (*Cache, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool.Acquire: %w", err)
	}

	c := &Cache{
		pool:   pool,
		conn:   conn.Hijack(),
		tables: make(Tables),
		watch:  make(chan Tables, 1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) Init(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.reload(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial load: %w", err)
	}

	if _, err := c.conn.Exec(ctx, "LISTEN "+ReloadChannel); err != nil {
		cancel()
		return fmt.Errorf("listen: %w", err)
	}

	go c.handleUpdates(ctx)
	return nil
}

// Close stops listening. The pool belongs to the caller.
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close(context.Background())
	}
}

// Watch delivers a snapshot after every reload. Slow readers miss
// intermediate snapshots.
func (c *Cache) Watch() <-chan Tables {
	return c.watch
}

func (c *Cache) handleUpdates(ctx context.Context) {
	for {
		notification, err := c.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("schema notification", zap.Error(err))
			return
		}

		if notification.Payload != ReloadPayload {
			continue
		}
		if err := c.reload(ctx); err != nil {
			c.logger.Error("schema reload", zap.Error(err))
		}
	}
}

func (c *Cache) reload(ctx context.Context) error {
	tables, err := loadAll(ctx, c.pool, c.schemas)
	if err != nil {
		return err
	}
	for key, rels := range c.relations {
		if tbl, ok := tables.Lookup(key); ok {
			tbl.Relations = append(tbl.Relations, rels...)
			tables[tbl.FullName()] = tbl
		}
	}
	tables = tables.Link()

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()

	c.logger.Info("schema loaded", zap.Int("tables", len(tables)))

	select {
	case c.watch <- c.Snapshot():
	default:
	}
	return nil
}

// Snapshot returns a copy of the current model.
func (c *Cache) Snapshot() Tables {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(Tables, len(c.tables))
	maps.Copy(snap, c.tables)
	return snap
}

func loadAll(ctx context.Context, conn pg.Conn, only []string) (Tables, error) {
	schemas := only
	if len(schemas) == 0 {
		var err error
		if schemas, err = querySchemas(ctx, conn); err != nil {
			return nil, fmt.Errorf("query schemas: %w", err)
		}
	}

	tables := make(Tables)
	for _, schema := range schemas {
		if isSystem(schema) {
			continue
		}

		schemaTables, err := loadSchema(ctx, conn, schema)
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", schema, err)
		}
		maps.Copy(tables, schemaTables)
	}
	return tables, nil
}

func loadSchema(ctx context.Context, conn pg.Conn, schema string) (Tables, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_schema, table_name, 'TABLE'::text AS table_type
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		UNION ALL
		SELECT table_schema, table_name, 'VIEW'::text AS table_type
		FROM information_schema.views
		WHERE table_schema = $1
		UNION ALL
		SELECT schemaname, matviewname, 'MATERIALIZED VIEW'::text AS table_type
		FROM pg_matviews
		WHERE schemaname = $1
		ORDER BY 1, 2`, schema)
	if err != nil {
		return nil, err
	}

	var found []Table
	for rows.Next() {
		var t Table
		var tableType string
		if err := rows.Scan(&t.Schema, &t.Name, &tableType); err != nil {
			rows.Close()
			return nil, err
		}
		t.Type = TableType(tableType)
		found = append(found, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make(Tables, len(found))
	for _, t := range found {
		cols, pkeys, err := queryColumns(ctx, conn, t.Schema, t.Name)
		if err != nil {
			return nil, fmt.Errorf("query columns %s: %w", t.FullName(), err)
		}
		t.Columns = cols
		t.PrimaryKeys = pkeys

		// views carry no constraints
		if t.Type == TypeTable {
			fkeys, err := queryForeignKeys(ctx, conn, t.Schema, t.Name)
			if err != nil {
				return nil, fmt.Errorf("query foreign keys %s: %w", t.FullName(), err)
			}
			t.ForeignKeys = fkeys
		}

		tables[t.FullName()] = t
	}
	return tables, nil
}

func queryColumns(ctx context.Context, conn pg.Conn, schema, table string) ([]Column, []string, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols []Column
	var pkeys []string
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.IsPrimaryKey); err != nil {
			return nil, nil, err
		}
		col.Kind = KindOf(col.DataType)
		cols = append(cols, col)
		if col.IsPrimaryKey {
			pkeys = append(pkeys, col.Name)
		}
	}
	return cols, pkeys, rows.Err()
}

func queryForeignKeys(ctx context.Context, conn pg.Conn, schema, table string) ([]ForeignKey, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.column_name`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fkeys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		fkeys = append(fkeys, fk)
	}
	return fkeys, rows.Err()
}

func querySchemas(ctx context.Context, conn pg.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

func isSystem(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast":
		return true
	default:
		return strings.HasPrefix(schema, "pg_temp_") || strings.HasPrefix(schema, "pg_toast_temp_")
	}
}
