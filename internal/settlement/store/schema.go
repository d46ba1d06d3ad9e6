package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bets (
		id                BIGINT PRIMARY KEY,
		maker             TEXT NOT NULL,
		amount            NUMERIC(30,0) NOT NULL,
		commitment        TEXT NOT NULL,
		maker_side        TEXT NOT NULL DEFAULT '',
		maker_secret      TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		acceptor          TEXT NOT NULL DEFAULT '',
		acceptor_guess    TEXT NOT NULL DEFAULT '',
		reveal_side       TEXT NOT NULL DEFAULT '',
		winner            TEXT NOT NULL DEFAULT '',
		payout            NUMERIC(30,0) NOT NULL DEFAULT 0,
		commission        NUMERIC(30,0) NOT NULL DEFAULT 0,
		created_at_chain  TIMESTAMPTZ NOT NULL,
		accepted_at_chain TIMESTAMPTZ,
		create_tx_hash    TEXT NOT NULL DEFAULT '',
		accept_tx_hash    TEXT NOT NULL DEFAULT '',
		reveal_tx_hash    TEXT NOT NULL DEFAULT '',
		cancel_tx_hash    TEXT NOT NULL DEFAULT '',
		timeout_tx_hash   TEXT NOT NULL DEFAULT '',
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bets_status ON bets (status)`,
	`CREATE INDEX IF NOT EXISTS idx_bets_maker ON bets (maker)`,
	`CREATE INDEX IF NOT EXISTS idx_bets_acceptor ON bets (acceptor)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bets_commitment ON bets (commitment)`,

	`CREATE TABLE IF NOT EXISTS pending_bet_secrets (
		commitment  TEXT PRIMARY KEY,
		maker       TEXT NOT NULL,
		maker_side  TEXT NOT NULL,
		maker_secret TEXT NOT NULL,
		tx_hash     TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_secrets_created ON pending_bet_secrets (created_at)`,

	`CREATE TABLE IF NOT EXISTS vault_balances (
		address    TEXT PRIMARY KEY,
		available  NUMERIC(30,0) NOT NULL DEFAULT 0,
		locked     NUMERIC(30,0) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS indexer_state (
		id          TEXT PRIMARY KEY,
		last_height BIGINT NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema cria as tabelas do serviço se ainda não existem. Idempotente,
// roda em todo boot antes dos workers.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
