package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

// SecretRepo implementa o vault de segredos pendentes de reveal
type SecretRepo struct{ db *sql.DB }

func NewSecretRepo(db *sql.DB) *SecretRepo { return &SecretRepo{db: db} }

// Stage guarda o segredo antes do broadcast do create. Idempotente por
// commitment: replay do mesmo create não duplica nem sobrescreve.
func (r *SecretRepo) Stage(ctx context.Context, s PendingSecret) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_bet_secrets (commitment, maker, maker_side, maker_secret, tx_hash, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),now())
		ON CONFLICT (commitment) DO NOTHING`,
		s.Commitment, s.Maker, s.Side, s.Secret, s.TxHash)
	return err
}

// SetTxHash amarra o segredo ao hash do create depois do broadcast aceito.
func (r *SecretRepo) SetTxHash(ctx context.Context, commitment, txHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_bet_secrets SET tx_hash=$2 WHERE commitment=$1`, commitment, txHash)
	return err
}

// ByCommitment busca o segredo de um commitment.
func (r *SecretRepo) ByCommitment(ctx context.Context, commitment string) (PendingSecret, error) {
	var s PendingSecret
	var txHash sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT commitment, maker, maker_side, maker_secret, tx_hash, created_at
		FROM pending_bet_secrets WHERE commitment=$1`, commitment).
		Scan(&s.Commitment, &s.Maker, &s.Side, &s.Secret, &txHash, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingSecret{}, ErrNotFound
	}
	if err != nil {
		return PendingSecret{}, err
	}
	s.TxHash = txHash.String
	return s, nil
}

// Delete remove o segredo (aposta revelada, cancelada ou descartada).
func (r *SecretRepo) Delete(ctx context.Context, commitment string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_bet_secrets WHERE commitment=$1`, commitment)
	return err
}

// DeleteOlderThan remove segredos órfãos mais velhos que o cutoff e devolve
// quantos saíram.
func (r *SecretRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_bet_secrets WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SecretGC remove periodicamente segredos que nunca viraram aposta
// (broadcast que falhou, create que a chain rejeitou).
type SecretGC struct {
	log      *zap.Logger
	secrets  *SecretRepo
	interval time.Duration
	maxAge   time.Duration
}

func NewSecretGC(log *zap.Logger, secrets *SecretRepo, interval, maxAge time.Duration) *SecretGC {
	return &SecretGC{log: log, secrets: secrets, interval: interval, maxAge: maxAge}
}

func (g *SecretGC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.secrets.DeleteOlderThan(ctx, time.Now().Add(-g.maxAge))
			if err != nil {
				g.log.Error("secret gc failed", zap.Error(err))
				continue
			}
			if n > 0 {
				g.log.Info("purged orphan bet secrets", zap.Int64("count", n))
			}
		}
	}
}
