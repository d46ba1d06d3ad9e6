package engine

import "errors"

// Erros de validação e de regra de negócio que as operações devolvem.
// Conflitos de CAS saem como store.ErrStatusConflict e problemas de chain
// como os erros do pacote chain; aqui ficam só os do domínio.
var (
	ErrInvalidAddress    = errors.New("invalid bech32 address")
	ErrInvalidSide       = errors.New("side must be heads or tails")
	ErrInvalidAmount     = errors.New("amount must be a positive whole number of micro tokens")
	ErrBetNotFound       = errors.New("bet not found")
	ErrBetNotOpen        = errors.New("bet is not open")
	ErrBetNotAccepted    = errors.New("bet is not accepted")
	ErrBetExpired        = errors.New("bet ttl elapsed, accept window closed")
	ErrSelfAccept        = errors.New("maker cannot accept own bet")
	ErrNotMaker          = errors.New("only the maker can cancel")
	ErrNotAcceptor       = errors.New("only the acceptor can claim timeout")
	ErrTooManyOpenBets   = errors.New("open bet limit reached for this address")
	ErrTimeoutNotElapsed = errors.New("reveal window still open")
	ErrSecretUnavailable = errors.New("maker secret not held by this service")
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrClaimInFlight     = errors.New("timeout claim already submitted")
)
