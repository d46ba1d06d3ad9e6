package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client fala com o endpoint REST (LCD) do node. Todas as chamadas têm
// timeout curto: quem decide esperar/repetir é a camada de cima.
type Client struct {
	BaseURL  string
	Contract string
	HTTP     *http.Client
}

func NewClient(base, contract string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(base, "/"),
		Contract: contract,
		HTTP:     &http.Client{Timeout: 2 * time.Second},
	}
}

// ---- DTOs do LCD (uint64 viaja como string no REST do Cosmos) ----

type accountResponse struct {
	Account struct {
		AccountNumber string `json:"account_number"`
		Sequence      string `json:"sequence"`
	} `json:"account"`
}

type broadcastRequest struct {
	TxBytes string `json:"tx_bytes"`
	Mode    string `json:"mode"`
}

type broadcastResponse struct {
	TxResponse struct {
		TxHash string `json:"txhash"`
		Code   uint32 `json:"code"`
		RawLog string `json:"raw_log"`
	} `json:"tx_response"`
}

type smartQueryResponse struct {
	Data json.RawMessage `json:"data"`
}

type txLog struct {
	Events []Event `json:"events"`
}

type txResponse struct {
	TxHash    string  `json:"txhash"`
	Height    string  `json:"height"`
	Timestamp string  `json:"timestamp"`
	Logs      []txLog `json:"logs"`
}

type txSearchResponse struct {
	TxResponses []txResponse `json:"tx_responses"`
}

// Account busca (account_number, sequence) da conta do relayer.
func (c *Client) Account(ctx context.Context, addr string) (AccountInfo, error) {
	res, err := c.get(ctx, "/cosmos/auth/v1beta1/accounts/"+url.PathEscape(addr))
	if err != nil {
		return AccountInfo{}, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return AccountInfo{}, ErrAccountNotFound
	case res.StatusCode >= 500:
		return AccountInfo{}, fmt.Errorf("%w: account query http %d", ErrChainUnreachable, res.StatusCode)
	case res.StatusCode >= 300:
		return AccountInfo{}, fmt.Errorf("account query http %d", res.StatusCode)
	}

	var out accountResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return AccountInfo{}, fmt.Errorf("decode account response: %w", err)
	}
	num, err := strconv.ParseUint(out.Account.AccountNumber, 10, 64)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("bad account_number %q: %w", out.Account.AccountNumber, err)
	}
	seq, err := strconv.ParseUint(out.Account.Sequence, 10, 64)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("bad sequence %q: %w", out.Account.Sequence, err)
	}
	return AccountInfo{AccountNumber: num, Sequence: seq}, nil
}

// BroadcastTx envia a transação em modo sync e mapeia o code ABCI:
// 0 ok, 32 sequence mismatch, resto rejeição definitiva.
func (c *Client) BroadcastTx(ctx context.Context, tx Tx) (TxResult, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return TxResult{}, fmt.Errorf("encode tx: %w", err)
	}
	body, _ := json.Marshal(broadcastRequest{
		TxBytes: base64.StdEncoding.EncodeToString(raw),
		Mode:    "BROADCAST_MODE_SYNC",
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/cosmos/tx/v1beta1/txs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return TxResult{}, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		return TxResult{}, fmt.Errorf("%w: broadcast http %d", ErrChainUnreachable, res.StatusCode)
	}
	if res.StatusCode >= 300 {
		return TxResult{}, fmt.Errorf("broadcast http %d", res.StatusCode)
	}

	var out broadcastResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return TxResult{}, fmt.Errorf("decode broadcast response: %w", err)
	}

	result := TxResult{Hash: out.TxResponse.TxHash, Code: out.TxResponse.Code, RawLog: out.TxResponse.RawLog}
	switch {
	case result.Code == 0:
		return result, nil
	case result.Code == codeSequenceMismatch:
		return result, parseSequenceMismatch(result.RawLog)
	default:
		return result, &TxRejectedError{Code: result.Code, RawLog: result.RawLog}
	}
}

// SmartQuery executa uma query no contrato e desserializa o campo data em out.
func (c *Client) SmartQuery(ctx context.Context, query QueryMsg, out any) error {
	raw, _ := json.Marshal(query)
	path := "/cosmwasm/wasm/v1/contract/" + url.PathEscape(c.Contract) + "/smart/" +
		url.PathEscape(base64.StdEncoding.EncodeToString(raw))

	res, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: smart query http %d", ErrChainUnreachable, res.StatusCode)
	case res.StatusCode >= 300:
		return fmt.Errorf("smart query http %d", res.StatusCode)
	}

	var wrapped smartQueryResponse
	if err := json.NewDecoder(res.Body).Decode(&wrapped); err != nil {
		return fmt.Errorf("decode smart query response: %w", err)
	}
	if err := json.Unmarshal(wrapped.Data, out); err != nil {
		return fmt.Errorf("decode smart query data: %w", err)
	}
	return nil
}

// Bet busca uma aposta pelo id.
func (c *Client) Bet(ctx context.Context, betID uint64) (BetView, error) {
	var out BetView
	err := c.SmartQuery(ctx, QueryMsg{Bet: &BetQuery{BetID: betID}}, &out)
	return out, err
}

// OpenBets varre todas as apostas abertas paginando por start_after.
func (c *Client) OpenBets(ctx context.Context) ([]BetView, error) {
	var (
		all   []BetView
		after *uint64
	)
	limit := uint32(100)
	for {
		var page BetsResponse
		q := QueryMsg{OpenBets: &OpenBetsQuery{StartAfter: after, Limit: &limit}}
		if err := c.SmartQuery(ctx, q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Bets...)
		if uint32(len(page.Bets)) < limit {
			return all, nil
		}
		last := page.Bets[len(page.Bets)-1].ID
		after = &last
	}
}

// UserBets busca as apostas mais recentes de um endereço (uma página).
func (c *Client) UserBets(ctx context.Context, addr string) ([]BetView, error) {
	limit := uint32(50)
	var page BetsResponse
	q := QueryMsg{UserBets: &UserBetsQuery{Address: addr, Limit: &limit}}
	if err := c.SmartQuery(ctx, q, &page); err != nil {
		return nil, err
	}
	return page.Bets, nil
}

// VaultBalance busca o saldo {available, locked} de um endereço no vault.
func (c *Client) VaultBalance(ctx context.Context, addr string) (VaultBalance, error) {
	var out VaultBalance
	err := c.SmartQuery(ctx, QueryMsg{VaultBalance: &VaultBalanceQuery{Address: addr}}, &out)
	return out, err
}

// Config busca a configuração do contrato.
func (c *Client) Config(ctx context.Context) (ContractConfig, error) {
	var out ContractConfig
	err := c.SmartQuery(ctx, QueryMsg{Config: &ConfigQuery{}}, &out)
	return out, err
}

// TxsSince busca transações confirmadas do contrato a partir de uma altura,
// em ordem crescente. O chamador controla o watermark.
func (c *Client) TxsSince(ctx context.Context, fromHeight int64, limit int) ([]TxRecord, error) {
	q := url.Values{}
	q.Add("events", fmt.Sprintf("wasm._contract_address='%s'", c.Contract))
	q.Add("events", fmt.Sprintf("tx.height>=%d", fromHeight))
	q.Set("order_by", "ORDER_BY_ASC")
	q.Set("pagination.limit", strconv.Itoa(limit))

	res, err := c.get(ctx, "/cosmos/tx/v1beta1/txs?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: tx search http %d", ErrChainUnreachable, res.StatusCode)
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("tx search http %d", res.StatusCode)
	}

	var out txSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tx search response: %w", err)
	}

	records := make([]TxRecord, 0, len(out.TxResponses))
	for _, tr := range out.TxResponses {
		height, err := strconv.ParseInt(tr.Height, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad tx height %q: %w", tr.Height, err)
		}
		ts, _ := time.Parse(time.RFC3339, tr.Timestamp)
		rec := TxRecord{Hash: tr.TxHash, Height: height, Time: ts}
		for _, lg := range tr.Logs {
			rec.Events = append(rec.Events, lg.Events...)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}
	return res, nil
}
