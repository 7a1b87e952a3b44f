package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
)

// Tx is a ledger transaction. Rows read through Lock* stay locked until the
// transaction ends.
type Tx struct {
	tx *sql.Tx
	d  *Database
}

// InTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (d *Database) InTx(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: sqlTx, d: d}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *Tx) lockable(sb squirrel.SelectBuilder) squirrel.SelectBuilder {
	if suffix := t.d.forUpdate(); suffix != "" {
		sb = sb.Suffix(suffix)
	}
	return sb.RunWith(t.tx)
}

// LockAccount reads and locks an account row.
func (t *Tx) LockAccount(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		return nil, ErrAccountIDRequired
	}
	row := t.lockable(t.d.builder().
		Select(accountColumns...).
		From("accounts").
		Where(squirrel.Eq{"id": id})).
		QueryRowContext(ctx)
	return scanAccount(row)
}

// LockLot reads and locks a lot row.
func (t *Tx) LockLot(ctx context.Context, id string) (*Lot, error) {
	row := t.lockable(t.d.builder().
		Select(lotColumns...).
		From("lots l").
		Where(squirrel.Eq{"l.id": id})).
		QueryRowContext(ctx)
	return scanLot(row)
}

// GetAsset resolves an asset inside the transaction.
func (t *Tx) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	row := t.d.builder().
		Select(assetColumns...).
		From("assets").
		Where(squirrel.Eq{"id": id}).
		RunWith(t.tx).
		QueryRowContext(ctx)
	return scanAsset(row)
}

// InsertLot stores a new lot row.
func (t *Tx) InsertLot(ctx context.Context, l Lot) error {
	var closedAt any
	if l.ClosedAt != nil {
		closedAt = l.ClosedAt.UTC()
	}
	_, err := t.d.builder().
		Insert("lots").
		Columns("id", "account_id", "asset_id", "side", "quantity", "price_open",
			"price_close", "pnl", "opened_at", "closed_at", "is_closed").
		Values(l.ID, l.AccountID, l.AssetID, l.Side, l.Quantity, l.PriceOpen,
			l.PriceClose, l.PnL, l.OpenedAt.UTC(), closedAt, l.IsClosed).
		RunWith(t.tx).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

// UpdateLotQuantity shrinks an open lot after a partial close.
func (t *Tx) UpdateLotQuantity(ctx context.Context, id string, qty decimal.Decimal) error {
	return t.execOne(ctx, "update lot quantity", t.d.builder().
		Update("lots").
		Set("quantity", qty).
		Where(squirrel.Eq{"id": id, "is_closed": false}))
}

// DeleteLot removes a fully closed open lot.
func (t *Tx) DeleteLot(ctx context.Context, id string) error {
	res, err := t.d.builder().
		Delete("lots").
		Where(squirrel.Eq{"id": id}).
		RunWith(t.tx).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("delete lot: %w", err)
	}
	return expectOne(res)
}

// UpdateAccountCash sets an account's cash balance.
func (t *Tx) UpdateAccountCash(ctx context.Context, id string, cash decimal.Decimal, now time.Time) error {
	return t.execOne(ctx, "update account cash", t.d.builder().
		Update("accounts").
		Set("cash", cash).
		Set("updated_at", now.UTC()).
		Where(squirrel.Eq{"id": id}))
}

func (t *Tx) execOne(ctx context.Context, op string, ub squirrel.UpdateBuilder) error {
	res, err := ub.RunWith(t.tx).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
