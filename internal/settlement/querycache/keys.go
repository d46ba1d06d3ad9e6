package querycache

import "strconv"

// Chaves compartilhadas por engine, indexer e sweep. Quem escreve invalida e
// quem lê busca pelo mesmo nome, então os formatos moram aqui do lado do cache.
const (
	KeyOpenBets = "open_bets"
	KeyConfig   = "config"
)

func BetKey(id uint64) string { return "bet:" + strconv.FormatUint(id, 10) }

func UserBetsKey(addr string) string { return "user_bets:" + addr }

func BalanceKey(addr string) string { return "balance:" + addr }
