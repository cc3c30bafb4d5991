// Package loader creates destination tables and bulk-loads normalized rows
// into PostgreSQL.
//
// Each load is one transaction on one pooled connection: existence check,
// CREATE TABLE, then COPY. Any failure rolls the whole unit back, including
// the CREATE TABLE, so a failed file leaves no table behind.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/watchload/internal/ingesterr"
	"github.com/JonMunkholm/watchload/internal/normalize"
	"github.com/JonMunkholm/watchload/internal/schema"
)

// TxBeginner starts a transaction. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ExistingTablePolicy decides what happens when the destination table already exists.
type ExistingTablePolicy string

// PolicySkipExisting leaves an existing table untouched and reports the file
// as handled. Tables are never altered, appended to or dropped.
const PolicySkipExisting ExistingTablePolicy = "skip"

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (ExistingTablePolicy, error) {
	switch ExistingTablePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicySkipExisting:
		return PolicySkipExisting, nil
	default:
		return "", fmt.Errorf("unknown existing-table policy %q", s)
	}
}

// Status is the result category of a load.
type Status string

const (
	StatusCreated       Status = "created"
	StatusSkippedExists Status = "skipped_exists"
)

// Outcome describes a finished load.
type Outcome struct {
	Table   string
	Status  Status
	Rows    int64
	Columns []schema.Column
}

// DefaultTimeout bounds a load when Options.Timeout is unset.
const DefaultTimeout = 10 * time.Minute

// Options configures a Loader.
type Options struct {
	Policy  ExistingTablePolicy
	Timeout time.Duration
	Logger  *slog.Logger
}

// Loader loads tables into the destination database.
type Loader struct {
	db      TxBeginner
	policy  ExistingTablePolicy
	timeout time.Duration
	log     *slog.Logger
}

// New creates a Loader over db.
func New(db TxBeginner, opts Options) *Loader {
	if opts.Policy == "" {
		opts.Policy = PolicySkipExisting
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{db: db, policy: opts.Policy, timeout: opts.Timeout, log: opts.Logger}
}

// ErrInvalidTableName is returned when a filename sanitizes to nothing.
var ErrInvalidTableName = errors.New("invalid table name")

// SanitizeTableName derives the destination table name from a filename:
// extension dropped, whitespace trimmed, spaces and hyphens to underscores,
// dots removed, lower-cased, and prefixed with "t_" when it starts with a digit.
func SanitizeTableName(filename string) (string, error) {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.TrimSpace(name)
	name = strings.NewReplacer(" ", "_", "-", "_", ".", "").Replace(name)
	name = strings.ToLower(name)

	if name == "" || strings.Trim(name, "_") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableName, filename)
	}
	if unicode.IsDigit([]rune(name)[0]) {
		name = "t_" + name
	}
	return name, nil
}

// quoteIdentifier quotes a PostgreSQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTableSQL renders the DDL for a new destination table.
func CreateTableSQL(table string, cols []schema.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdentifier(c.Name) + " " + string(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(table), strings.Join(defs, ", "))
}

const tableExistsSQL = `SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_name = $1
)`

// Load infers column types for t and loads it into table.
func (l *Loader) Load(ctx context.Context, table string, t *normalize.Table) (Outcome, error) {
	return l.LoadColumns(ctx, table, schema.InferTable(t), t.Rows)
}

// LoadColumns loads rows into table using already inferred columns.
//
// The transaction is detached from ctx cancellation so a shutdown request
// never interrupts a COPY halfway; it is bounded by the configured timeout.
func (l *Loader) LoadColumns(ctx context.Context, table string, cols []schema.Column, rows [][]string) (Outcome, error) {
	out := Outcome{Table: table, Columns: cols}
	if len(cols) == 0 {
		return out, ingesterr.New(ingesterr.KindLoad, "load", table, errors.New("table has no columns"))
	}

	values, err := schema.ConvertRows(cols, rows)
	if err != nil {
		return out, ingesterr.New(ingesterr.KindLoad, "load", table, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return out, ingesterr.New(ingesterr.KindLoad, "load", table, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) // No-op if already committed

	var exists bool
	if err := tx.QueryRow(ctx, tableExistsSQL, table).Scan(&exists); err != nil {
		return out, ingesterr.New(ingesterr.KindLoad, "load", table, fmt.Errorf("check table: %w", err))
	}
	if exists {
		out.Status = StatusSkippedExists
		l.log.Info("table already exists, skipping load", "table", table, "policy", string(l.policy))
		return out, nil
	}

	if _, err := tx.Exec(ctx, CreateTableSQL(table, cols)); err != nil {
		return out, ingesterr.New(ingesterr.KindLoad, "load", table, fmt.Errorf("create table: %w", err))
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, names, pgx.CopyFromRows(values))
	if err != nil {
		return out, ingesterr.New(ingesterr.KindLoad, "load", table, fmt.Errorf("copy rows: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return out, ingesterr.New(ingesterr.KindLoad, "load", table, fmt.Errorf("commit: %w", err))
	}

	out.Status = StatusCreated
	out.Rows = n
	l.log.Info("table created and loaded", "table", table, "rows", n, "columns", len(cols))
	return out, nil
}
