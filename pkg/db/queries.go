package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

var (
	ErrAccountIDRequired = errors.New("account_id is required for data isolation")
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("record already exists")
)

// SQLITE_CONSTRAINT_UNIQUE extended result code.
const sqliteConstraintUnique = 2067

var (
	accountColumns = []string{"id", "email", "password_hash", "cash", "created_at", "updated_at"}
	assetColumns   = []string{"id", "symbol", "kind"}
	lotColumns     = []string{
		"l.id", "l.account_id", "l.asset_id", "l.side", "l.quantity", "l.price_open",
		"l.price_close", "l.pnl", "l.opened_at", "l.closed_at", "l.is_closed",
	}
)

type scanner interface {
	Scan(dest ...any) error
}

// Queries provides account-isolated read queries plus account creation.
type Queries struct {
	d *Database
}

// Queries returns the read-side query set.
func (d *Database) Queries() *Queries {
	return &Queries{d: d}
}

// ----------------------------------------
// Account Queries
// ----------------------------------------

// CreateAccount inserts a new account. A taken email reports ErrDuplicate.
func (q *Queries) CreateAccount(ctx context.Context, a Account) error {
	_, err := q.d.builder().
		Insert("accounts").
		Columns(accountColumns...).
		Values(a.ID, a.Email, a.PasswordHash, a.Cash, a.CreatedAt.UTC(), a.UpdatedAt.UTC()).
		RunWith(q.d.DB).
		ExecContext(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount returns an account by id.
func (q *Queries) GetAccount(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		return nil, ErrAccountIDRequired
	}
	row := q.d.builder().
		Select(accountColumns...).
		From("accounts").
		Where(squirrel.Eq{"id": id}).
		RunWith(q.d.DB).
		QueryRowContext(ctx)
	return scanAccount(row)
}

// GetAccountByEmail returns an account by login email.
func (q *Queries) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := q.d.builder().
		Select(accountColumns...).
		From("accounts").
		Where(squirrel.Eq{"email": email}).
		RunWith(q.d.DB).
		QueryRowContext(ctx)
	return scanAccount(row)
}

// ----------------------------------------
// Asset Queries
// ----------------------------------------

// GetAsset returns an asset by id.
func (q *Queries) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	row := q.d.builder().
		Select(assetColumns...).
		From("assets").
		Where(squirrel.Eq{"id": id}).
		RunWith(q.d.DB).
		QueryRowContext(ctx)
	return scanAsset(row)
}

// ListAssets returns all assets ordered by id.
func (q *Queries) ListAssets(ctx context.Context) ([]Asset, error) {
	rows, err := q.d.builder().
		Select(assetColumns...).
		From("assets").
		OrderBy("id ASC").
		RunWith(q.d.DB).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// ----------------------------------------
// Lot Queries
// ----------------------------------------

// GetLot returns a lot by id without locking it.
func (q *Queries) GetLot(ctx context.Context, id string) (*Lot, error) {
	row := q.d.builder().
		Select(lotColumns...).
		From("lots l").
		Where(squirrel.Eq{"l.id": id}).
		RunWith(q.d.DB).
		QueryRowContext(ctx)
	return scanLot(row)
}

// ListLots returns an account's lots with their asset symbol, newest first.
func (q *Queries) ListLots(ctx context.Context, accountID string, f LotFilter) ([]LotWithSymbol, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	sb := q.selectLots().
		Where(squirrel.Eq{"l.account_id": accountID}).
		OrderBy("l.opened_at DESC", "l.id ASC")
	if f.IsClosed != nil {
		sb = sb.Where(squirrel.Eq{"l.is_closed": *f.IsClosed})
	}
	if f.AssetID != nil {
		sb = sb.Where(squirrel.Eq{"l.asset_id": *f.AssetID})
	}
	return q.queryLots(ctx, sb)
}

// OpenLotsByAccount returns an account's open lots ordered by asset id.
func (q *Queries) OpenLotsByAccount(ctx context.Context, accountID string) ([]LotWithSymbol, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	sb := q.selectLots().
		Where(squirrel.Eq{"l.account_id": accountID, "l.is_closed": false}).
		OrderBy("l.asset_id ASC", "l.opened_at ASC")
	return q.queryLots(ctx, sb)
}

func (q *Queries) selectLots() squirrel.SelectBuilder {
	cols := append(append([]string{}, lotColumns...), "a.symbol")
	return q.d.builder().
		Select(cols...).
		From("lots l").
		Join("assets a ON a.id = l.asset_id")
}

func (q *Queries) queryLots(ctx context.Context, sb squirrel.SelectBuilder) ([]LotWithSymbol, error) {
	rows, err := sb.RunWith(q.d.DB).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	var lots []LotWithSymbol
	for rows.Next() {
		var l LotWithSymbol
		if err := rows.Scan(append(lotDest(&l.Lot), &l.Symbol)...); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func lotDest(l *Lot) []any {
	return []any{
		&l.ID, &l.AccountID, &l.AssetID, &l.Side, &l.Quantity, &l.PriceOpen,
		&l.PriceClose, &l.PnL, &l.OpenedAt, &l.ClosedAt, &l.IsClosed,
	}
}

func scanLot(row scanner) (*Lot, error) {
	var l Lot
	if err := row.Scan(lotDest(&l)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan lot: %w", err)
	}
	return &l, nil
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a         Account
		updatedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Cash, &a.CreatedAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time
	}
	return &a, nil
}

func scanAsset(row scanner) (*Asset, error) {
	var a Asset
	if err := row.Scan(&a.ID, &a.Symbol, &a.Kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqliteConstraintUnique
	}
	return false
}
