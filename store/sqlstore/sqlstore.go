/*
Package sqlstore provides the SQL-backed implementation of the ledger ports.

PURPOSE:
  Implements ledger.Store, ledger.Identity and ledger.Settings over sqlx.
  Two dialects are supported: SQLite for development and tests, MySQL for
  production. Queries are written once; only column types and the row lock
  suffix differ.

INTERFACES IMPLEMENTED:
  ledger.Store:    transactions, savings accounts, loans, snapshots
  ledger.Identity: staff and member lookups
  ledger.Settings: the settings table, through Settings (TTL cached)

KEY TABLES:
  transactions:     every submitted movement and its decision
  savings_accounts: per-member balances by category
  loans:            principal, outstanding and lifecycle status
  snapshots:        one row per (month, year), DRAFT or FINAL
  members, staff:   identity rows owned by the membership service
  settings:         typed key/value configuration

ROW LOCKING:
  MySQL:  LockForProcessing and the snapshot Lock* methods append
          FOR UPDATE, so one unit per account, loan or period commits at a
          time. Other accounts proceed in parallel.
  SQLite: the pool is a single connection and transactions begin
          IMMEDIATE, so every unit of work is serialized.

  Inside Atomically every statement goes through the sqlx.Tx. Touching the
  pool from inside a unit deadlocks on SQLite.

MONEY AND TIME:
  Money is stored as DECIMAL(18,2) on MySQL and TEXT on SQLite (NUMERIC
  affinity would turn "0.50" into a float). Sums are computed in Go over
  decimals. Timestamps are written in UTC so SQLite's text comparison
  orders them correctly.

USAGE:
  store, err := sqlstore.New(sqlstore.Config{Driver: "sqlite3", DSN: "./data/ksp.db"})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  processor := ledger.NewProcessor(store)

MIGRATION:
  The schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - ledger/store.go: the port definitions
  - ledger/store/memory.go: in-memory implementation for engine tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// Config selects the driver and pool limits. Zero pool fields keep the
// driver defaults; SQLite always runs on one connection.
type Config struct {
	Driver          string // "sqlite3" or "mysql"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements ledger.Store and ledger.Identity.
type Store struct {
	*queries
	db      *sqlx.DB
	dialect dialect
}

var (
	_ ledger.Store    = (*Store)(nil)
	_ ledger.Identity = (*Store)(nil)
	_ ledger.Tx       = (*txView)(nil)
)

// New opens the database, verifies the connection and migrates the schema.
func New(cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(cfg.Driver, d.dsn(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.singleWriter {
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s := &Store{db: db, dialect: d, queries: &queries{ext: db, dialect: d}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// NewSQLite opens a SQLite store. Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*Store, error) {
	return New(Config{Driver: "sqlite3", DSN: path})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// =============================================================================
// DIALECTS
// =============================================================================

type dialect struct {
	name          string
	singleWriter  bool
	lock          string // row lock suffix for SELECT
	shareLock     string // shared lock suffix for reads that must not go stale
	schema        []string
	upsertSetting string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3":
		return sqliteDialect, nil
	case "mysql":
		return mysqlDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

func (d dialect) dsn(dsn string) string {
	switch d.name {
	case "sqlite3":
		if strings.Contains(dsn, "?") {
			return dsn
		}
		return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	case "mysql":
		if strings.Contains(dsn, "parseTime=") {
			return dsn
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "parseTime=true&loc=UTC"
	}
	return dsn
}

var sqliteDialect = dialect{
	name:         "sqlite3",
	singleWriter: true,

	upsertSetting: `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = excluded.updated_at`,

	schema: []string{
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS staff (
			id TEXT PRIMARY KEY,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS savings_accounts (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL,
			category TEXT NOT NULL,
			balance TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL,
			principal TEXT NOT NULL,
			interest_percent TEXT NOT NULL,
			tenor_months INTEGER NOT NULL,
			outstanding TEXT NOT NULL,
			status TEXT NOT NULL,
			approved_by TEXT,
			approved_at DATETIME,
			disbursed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			account_id TEXT,
			loan_id TEXT,
			kind TEXT NOT NULL,
			amount TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			evidence_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			month INTEGER NOT NULL,
			year INTEGER NOT NULL,
			total_deposits TEXT NOT NULL,
			total_withdrawals TEXT NOT NULL,
			total_disbursements TEXT NOT NULL,
			total_installments TEXT NOT NULL,
			closing_balance TEXT NOT NULL,
			status TEXT NOT NULL,
			generated_by TEXT NOT NULL,
			generated_at DATETIME NOT NULL,
			finalized_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (month, year)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			setting_key TEXT PRIMARY KEY,
			setting_value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status_occurred ON transactions(status, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_kind_occurred ON transactions(kind, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_savings_accounts_member ON savings_accounts(member_id)`,
		`CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id)`,
	},
}

var mysqlDialect = dialect{
	name:      "mysql",
	lock:      " FOR UPDATE",
	shareLock: " LOCK IN SHARE MODE",

	upsertSetting: `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value), updated_at = VALUES(updated_at)`,

	schema: []string{
		`CREATE TABLE IF NOT EXISTS members (
			id VARCHAR(36) PRIMARY KEY,
			status VARCHAR(16) NOT NULL,
			created_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS staff (
			id VARCHAR(36) PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS savings_accounts (
			id VARCHAR(36) PRIMARY KEY,
			member_id VARCHAR(36) NOT NULL,
			category VARCHAR(16) NOT NULL,
			balance DECIMAL(18,2) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			deleted_at DATETIME(6) NULL,
			INDEX idx_savings_accounts_member (member_id)
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			id VARCHAR(36) PRIMARY KEY,
			member_id VARCHAR(36) NOT NULL,
			principal DECIMAL(18,2) NOT NULL,
			interest_percent DECIMAL(18,2) NOT NULL,
			tenor_months INT NOT NULL,
			outstanding DECIMAL(18,2) NOT NULL,
			status VARCHAR(16) NOT NULL,
			approved_by VARCHAR(36) NULL,
			approved_at DATETIME(6) NULL,
			disbursed_at DATETIME(6) NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			deleted_at DATETIME(6) NULL,
			INDEX idx_loans_member (member_id)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(36) PRIMARY KEY,
			member_id VARCHAR(36) NOT NULL,
			actor_id VARCHAR(36) NOT NULL,
			account_id VARCHAR(36) NULL,
			loan_id VARCHAR(36) NULL,
			kind VARCHAR(16) NOT NULL,
			amount DECIMAL(18,2) NOT NULL,
			occurred_at DATETIME(6) NOT NULL,
			method VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL,
			note VARCHAR(500) NOT NULL DEFAULT '',
			evidence_url VARCHAR(500) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			deleted_at DATETIME(6) NULL,
			INDEX idx_transactions_status_occurred (status, occurred_at),
			INDEX idx_transactions_kind_occurred (kind, occurred_at)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id VARCHAR(36) PRIMARY KEY,
			month TINYINT NOT NULL,
			year SMALLINT NOT NULL,
			total_deposits DECIMAL(18,2) NOT NULL,
			total_withdrawals DECIMAL(18,2) NOT NULL,
			total_disbursements DECIMAL(18,2) NOT NULL,
			total_installments DECIMAL(18,2) NOT NULL,
			closing_balance DECIMAL(18,2) NOT NULL,
			status VARCHAR(16) NOT NULL,
			generated_by VARCHAR(36) NOT NULL,
			generated_at DATETIME(6) NOT NULL,
			finalized_at DATETIME(6) NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_snapshots_period (month, year)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			setting_key VARCHAR(100) PRIMARY KEY,
			setting_value VARCHAR(500) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`,
	},
}

func (s *Store) migrate() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Atomically runs fn inside one database transaction. The transaction is
// rolled back when fn returns an error or panics.
func (s *Store) Atomically(ctx context.Context, fn func(ledger.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txView{queries: &queries{ext: tx, dialect: s.dialect}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// MySQL server error numbers.
const (
	mysqlDuplicateEntry = 1062
	mysqlDeadlock       = 1213
)

// lostRace reports whether err means another unit claimed the same unique
// key first. The losing unit has been rolled back and may be retried.
func lostRace(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry || myErr.Number == mysqlDeadlock
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// utc normalizes a timestamp before it is written or compared.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// timeRange adds from <= col < to; zero bounds are open.
func (w *where) timeRange(col string, from, to time.Time) {
	if !from.IsZero() {
		w.add(col+" >= ?", utc(from))
	}
	if !to.IsZero() {
		w.add(col+" < ?", utc(to))
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}
