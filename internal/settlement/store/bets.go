package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict: o status mudou entre a leitura e a escrita.
	// Quem chamou decide se desiste ou relê.
	ErrStatusConflict = errors.New("bet status changed concurrently")
)

// TxPhase identifica qual hash de transação gravar numa aposta.
type TxPhase string

const (
	PhaseCreate  TxPhase = "create"
	PhaseAccept  TxPhase = "accept"
	PhaseReveal  TxPhase = "reveal"
	PhaseCancel  TxPhase = "cancel"
	PhaseTimeout TxPhase = "timeout"
)

var phaseColumns = map[TxPhase]string{
	PhaseCreate:  "create_tx_hash",
	PhaseAccept:  "accept_tx_hash",
	PhaseReveal:  "reveal_tx_hash",
	PhaseCancel:  "cancel_tx_hash",
	PhaseTimeout: "timeout_tx_hash",
}

// BetRepo implementa a persistência do espelho local de apostas
type BetRepo struct{ db *sql.DB }

func NewBetRepo(db *sql.DB) *BetRepo { return &BetRepo{db: db} }

const betColumns = `id, maker, amount, commitment, maker_side, maker_secret, status,
	acceptor, acceptor_guess, reveal_side, winner, payout, commission,
	created_at_chain, accepted_at_chain,
	create_tx_hash, accept_tx_hash, reveal_tx_hash, cancel_tx_hash, timeout_tx_hash, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(row rowScanner) (Bet, error) {
	var b Bet
	var acceptedAt sql.NullTime
	err := row.Scan(&b.ID, &b.Maker, &b.Amount, &b.Commitment, &b.MakerSide, &b.MakerSecret,
		&b.Status, &b.Acceptor, &b.AcceptorGuess, &b.RevealSide, &b.Winner, &b.Payout,
		&b.Commission, &b.CreatedAtChain, &acceptedAt,
		&b.CreateTxHash, &b.AcceptTxHash, &b.RevealTxHash, &b.CancelTxHash, &b.TimeoutTxHash,
		&b.UpdatedAt)
	if err != nil {
		return Bet{}, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		b.AcceptedAtChain = &t
	}
	return b, nil
}

func collectBets(rows *sql.Rows) ([]Bet, error) {
	defer rows.Close()
	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertFromChain grava a visão da chain, que é a fonte de verdade. A única
// proteção é não regredir uma linha terminal: replay de evento antigo não
// pode reabrir aposta liquidada.
func (r *BetRepo) UpsertFromChain(ctx context.Context, b Bet) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bets (id, maker, amount, commitment, status, acceptor, acceptor_guess,
			reveal_side, winner, payout, commission, created_at_chain, accepted_at_chain, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
		ON CONFLICT (id) DO UPDATE SET
			status            = EXCLUDED.status,
			acceptor          = EXCLUDED.acceptor,
			acceptor_guess    = EXCLUDED.acceptor_guess,
			reveal_side       = EXCLUDED.reveal_side,
			winner            = EXCLUDED.winner,
			payout            = EXCLUDED.payout,
			commission        = EXCLUDED.commission,
			accepted_at_chain = COALESCE(EXCLUDED.accepted_at_chain, bets.accepted_at_chain),
			updated_at        = now()
		WHERE bets.status NOT IN ('revealed','canceled','timeout_claimed')
		   OR EXCLUDED.status IN ('revealed','canceled','timeout_claimed')`,
		b.ID, b.Maker, b.Amount, b.Commitment, b.Status, b.Acceptor, b.AcceptorGuess,
		b.RevealSide, b.Winner, b.Payout, b.Commission, b.CreatedAtChain, b.AcceptedAtChain)
	return err
}

// AttachSecret dobra o segredo do vault pra dentro da linha da aposta e
// remove a linha do vault, na mesma transação: ou o segredo mora nos dois
// lugares ou no definitivo, nunca em nenhum.
func (r *BetRepo) AttachSecret(ctx context.Context, id uint64, commitment, side, secret string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE bets SET maker_side=$2, maker_secret=$3, updated_at=now() WHERE id=$1`,
		id, side, secret)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM pending_bet_secrets WHERE commitment=$1`, commitment)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Get busca uma aposta pelo id
func (r *BetRepo) Get(ctx context.Context, id uint64) (Bet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id=$1`, id)
	b, err := scanBet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Bet{}, ErrNotFound
	}
	return b, err
}

// Transition troca o status com CAS: só aplica se o status atual ainda é o
// esperado. Zero linhas afetadas vira ErrStatusConflict.
func (r *BetRepo) Transition(ctx context.Context, id uint64, from, to string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bets SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// SetTxHash grava o hash da transação de uma fase da aposta.
func (r *BetRepo) SetTxHash(ctx context.Context, id uint64, phase TxPhase, hash string) error {
	col, ok := phaseColumns[phase]
	if !ok {
		return fmt.Errorf("unknown tx phase %q", phase)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE bets SET `+col+`=$2, updated_at=now() WHERE id=$1`, id, hash)
	return err
}

// claimMarkerPrefix marca uma reserva de claim que ainda não virou hash de
// verdade. Reservas órfãs (broadcast que morreu) são limpas pelo sweep.
const claimMarkerPrefix = "claim:"

// NewClaimMarker gera uma reserva única pra gravar em timeout_tx_hash antes
// do broadcast do claim.
func NewClaimMarker() string { return claimMarkerPrefix + uuid.NewString() }

// IsClaimMarker diz se o valor em timeout_tx_hash é reserva, não hash real.
func IsClaimMarker(hash string) bool { return strings.HasPrefix(hash, claimMarkerPrefix) }

// ClaimTimeoutTx reserva o direito de submeter o claim de timeout desta
// aposta. Só o primeiro chamador ganha: o hash é gravado uma vez e nunca
// sobrescrito, então o claim nunca sai em dobro.
func (r *BetRepo) ClaimTimeoutTx(ctx context.Context, id uint64, hash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bets SET timeout_tx_hash=$2, updated_at=now()
		 WHERE id=$1 AND timeout_tx_hash=''`, id, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// OpenExpired lista apostas abertas criadas antes do cutoff (candidatas a
// cancelamento por TTL).
func (r *BetRepo) OpenExpired(ctx context.Context, cutoff time.Time) ([]Bet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+betColumns+` FROM bets WHERE status=$1 AND created_at_chain < $2 ORDER BY id`,
		StatusOpen, cutoff)
	if err != nil {
		return nil, err
	}
	return collectBets(rows)
}

// AcceptedWithSecrets lista apostas aceitas ainda sem reveal cujo segredo é
// conhecido: o da própria linha quando já dobrado, senão o do vault.
func (r *BetRepo) AcceptedWithSecrets(ctx context.Context) ([]RevealJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT b.id, b.maker, b.amount, b.commitment, b.maker_side, b.maker_secret,
			b.status, b.acceptor, b.acceptor_guess, b.reveal_side, b.winner, b.payout,
			b.commission, b.created_at_chain, b.accepted_at_chain,
			b.create_tx_hash, b.accept_tx_hash, b.reveal_tx_hash, b.cancel_tx_hash,
			b.timeout_tx_hash, b.updated_at,
			COALESCE(NULLIF(b.maker_side,''), s.maker_side, ''),
			COALESCE(NULLIF(b.maker_secret,''), s.maker_secret, '')
		FROM bets b
		LEFT JOIN pending_bet_secrets s ON s.commitment = b.commitment
		WHERE b.status=$1 AND b.reveal_tx_hash=''
		  AND (b.maker_secret <> '' OR s.maker_secret IS NOT NULL)
		ORDER BY b.id`, StatusAccepted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RevealJob
	for rows.Next() {
		var j RevealJob
		var acceptedAt sql.NullTime
		err := rows.Scan(&j.Bet.ID, &j.Bet.Maker, &j.Bet.Amount, &j.Bet.Commitment,
			&j.Bet.MakerSide, &j.Bet.MakerSecret, &j.Bet.Status,
			&j.Bet.Acceptor, &j.Bet.AcceptorGuess, &j.Bet.RevealSide, &j.Bet.Winner,
			&j.Bet.Payout, &j.Bet.Commission, &j.Bet.CreatedAtChain, &acceptedAt,
			&j.Bet.CreateTxHash, &j.Bet.AcceptTxHash, &j.Bet.RevealTxHash, &j.Bet.CancelTxHash,
			&j.Bet.TimeoutTxHash, &j.Bet.UpdatedAt, &j.Side, &j.Secret)
		if err != nil {
			return nil, err
		}
		if acceptedAt.Valid {
			t := acceptedAt.Time
			j.Bet.AcceptedAtChain = &t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// AcceptedTimedOut lista apostas aceitas há mais tempo que a janela de reveal
// e ainda sem claim submetido.
func (r *BetRepo) AcceptedTimedOut(ctx context.Context, cutoff time.Time) ([]Bet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE status=$1 AND accepted_at_chain IS NOT NULL AND accepted_at_chain <= $2
		  AND timeout_tx_hash=''
		ORDER BY id`, StatusAccepted, cutoff)
	if err != nil {
		return nil, err
	}
	return collectBets(rows)
}

// StaleClaimMarkers lista apostas aceitas cuja reserva de claim envelheceu
// sem virar hash real: o broadcast do claim morreu e a reserva precisa ser
// devolvida pra aposta voltar a ser reclamável.
func (r *BetRepo) StaleClaimMarkers(ctx context.Context, cutoff time.Time) ([]Bet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE status=$1 AND timeout_tx_hash LIKE $2 AND updated_at < $3
		ORDER BY id`, StatusAccepted, claimMarkerPrefix+"%", cutoff)
	if err != nil {
		return nil, err
	}
	return collectBets(rows)
}

// StuckTransitional lista apostas paradas em accepting/canceling além do
// prazo de graça (broadcast que nunca confirmou ou worker que morreu no meio).
func (r *BetRepo) StuckTransitional(ctx context.Context, cutoff time.Time) ([]Bet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE status IN ($1,$2) AND updated_at < $3
		ORDER BY id`, StatusAccepting, StatusCanceling, cutoff)
	if err != nil {
		return nil, err
	}
	return collectBets(rows)
}

// NonTerminal lista toda aposta que ainda pode mudar (entrada do reconcílio
// contra a chain).
func (r *BetRepo) NonTerminal(ctx context.Context) ([]Bet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE status NOT IN ($1,$2,$3)
		ORDER BY id`, StatusRevealed, StatusCanceled, StatusTimeoutClaimed)
	if err != nil {
		return nil, err
	}
	return collectBets(rows)
}

// CountOpenByMaker conta apostas do maker ocupando vaga no limite por usuário
// (abertas confirmadas + creates em trânsito já espelhados).
func (r *BetRepo) CountOpenByMaker(ctx context.Context, maker string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bets WHERE maker=$1 AND status IN ($2,$3)`,
		maker, StatusOpen, StatusAccepting).Scan(&n)
	return n, err
}
