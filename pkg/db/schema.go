package db

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultAssets is the reference data seeded at migration time.
var DefaultAssets = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT",
	"ADAUSDT", "XRPUSDT", "DOGEUSDT", "DOTUSDT",
}

var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL`,
	`CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    cash TEXT NOT NULL DEFAULT '0',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS assets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL DEFAULT 'crypto' CHECK (kind IN ('crypto', 'forex', 'index'))
)`,
	`CREATE TABLE IF NOT EXISTS lots (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    asset_id INTEGER NOT NULL,
    side TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
    quantity TEXT NOT NULL,
    price_open TEXT NOT NULL,
    price_close TEXT,
    pnl TEXT,
    opened_at DATETIME NOT NULL,
    closed_at DATETIME,
    is_closed INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY(account_id) REFERENCES accounts(id),
    FOREIGN KEY(asset_id) REFERENCES assets(id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_account ON lots(account_id, is_closed)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    cash NUMERIC NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS assets (
    id BIGSERIAL PRIMARY KEY,
    symbol TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL DEFAULT 'crypto' CHECK (kind IN ('crypto', 'forex', 'index'))
)`,
	`CREATE TABLE IF NOT EXISTS lots (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    asset_id BIGINT NOT NULL REFERENCES assets(id),
    side TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
    quantity NUMERIC NOT NULL,
    price_open NUMERIC NOT NULL,
    price_close NUMERIC,
    pnl NUMERIC,
    opened_at TIMESTAMPTZ NOT NULL,
    closed_at TIMESTAMPTZ,
    is_closed BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_account ON lots(account_id, is_closed)`,
}

// ApplyMigrations bootstraps the schema and seeds reference assets; keep
// lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}

	stmts := sqliteSchema
	if d.Dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := d.DB.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	// Older DB files predate account timestamps.
	if err := ensureColumn(d, "accounts", "updated_at", "TIMESTAMP"); err != nil {
		return err
	}

	return SeedAssets(context.Background(), d, DefaultAssets)
}

// SeedAssets inserts crypto assets by symbol, skipping those already present.
func SeedAssets(ctx context.Context, d *Database, symbols []string) error {
	for _, sym := range symbols {
		sym = CanonicalSymbol(sym)
		if sym == "" {
			continue
		}
		_, err := d.builder().
			Insert("assets").
			Columns("symbol", "kind").
			Values(sym, AssetKindCrypto).
			Suffix("ON CONFLICT(symbol) DO NOTHING").
			RunWith(d.DB).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("seed asset %s: %w", sym, err)
		}
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(d *Database, table, column, definition string) error {
	if d.Dialect == DialectPostgres {
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, definition)
		if _, err := d.DB.Exec(alter); err != nil {
			return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
		}
		return nil
	}

	exists, err := columnExists(d.DB, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := d.DB.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
