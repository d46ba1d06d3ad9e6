package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
)

// BalanceRepo implementa o snapshot local de saldos do vault
type BalanceRepo struct{ db *sql.DB }

func NewBalanceRepo(db *sql.DB) *BalanceRepo { return &BalanceRepo{db: db} }

// Upsert grava o último saldo visto na chain pra um endereço.
func (r *BalanceRepo) Upsert(ctx context.Context, addr string, available, locked decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vault_balances (address, available, locked, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (address) DO UPDATE SET
			available  = EXCLUDED.available,
			locked     = EXCLUDED.locked,
			updated_at = now()`,
		addr, available, locked)
	return err
}

// Get busca o snapshot de um endereço.
func (r *BalanceRepo) Get(ctx context.Context, addr string) (VaultBalanceRow, error) {
	var row VaultBalanceRow
	err := r.db.QueryRowContext(ctx,
		`SELECT address, available, locked, updated_at FROM vault_balances WHERE address=$1`, addr).
		Scan(&row.Address, &row.Available, &row.Locked, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return VaultBalanceRow{}, ErrNotFound
	}
	return row, err
}
