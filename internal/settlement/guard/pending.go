package guard

import "sync"

// PendingOpCounter conta, por usuário, creates submetidos que o indexer ainda
// não confirmou. Entra na checagem de limite de apostas abertas: o que está a
// caminho da chain também ocupa vaga.
type PendingOpCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewPendingOpCounter() *PendingOpCounter {
	return &PendingOpCounter{counts: make(map[string]int)}
}

// Inc registra um create em trânsito e devolve o total atual.
func (c *PendingOpCounter) Inc(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[addr]++
	return c.counts[addr]
}

// Dec baixa o contador quando o create confirma (ou falha de vez).
// Nunca fica negativo: Dec a mais é ignorado.
func (c *PendingOpCounter) Dec(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[addr] <= 1 {
		delete(c.counts, addr)
		return
	}
	c.counts[addr]--
}

// Get devolve o total em trânsito do endereço.
func (c *PendingOpCounter) Get(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[addr]
}
