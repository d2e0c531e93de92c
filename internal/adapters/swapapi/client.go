// Package swapapi quotes swaps against a Jupiter-compatible HTTP API and
// returns the route as ready-to-pack instructions.
package swapapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
	"github.com/hxuan190/leverage-keeper/internal/metrics"
	"github.com/hxuan190/leverage-keeper/internal/planner"
)

var (
	ErrNoRoute      = errors.New("no swap route")
	ErrBadResponse  = errors.New("unexpected swap api response")
	ErrAmountTooBig = errors.New("quoted amount does not fit in uint64")
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ planner.SwapProvider = (*Client)(nil)

func NewClient(baseURL string, requestsPerSecond float64) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	InAmount             string `json:"inAmount"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SwapMode             string `json:"swapMode"`
	SlippageBps          uint16 `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`

	// Raw is echoed back verbatim to the instructions endpoint.
	Raw []byte `json:"-"`
}

type accountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type instruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []accountMeta `json:"accounts"`
	Data      string        `json:"data"`
}

type instructionsRequest struct {
	UserPublicKey    string          `json:"userPublicKey"`
	QuoteResponse    sonicRawMessage `json:"quoteResponse"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type instructionsResponse struct {
	SetupInstructions           []instruction `json:"setupInstructions"`
	SwapInstruction             *instruction  `json:"swapInstruction"`
	CleanupInstruction          *instruction  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string      `json:"addressLookupTableAddresses"`
	Error                       string        `json:"error"`
}

// sonicRawMessage embeds pre-encoded JSON.
type sonicRawMessage []byte

func (m sonicRawMessage) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}

// Quote fetches a route for req and the instructions that execute it. Compute
// budget instructions from the API are dropped; the keeper sets its own.
func (c *Client) Quote(ctx context.Context, req domain.SwapRequest) (*domain.SwapQuote, error) {
	start := time.Now()
	quote, err := c.quote(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SwapQuoteDuration.WithLabelValues(string(req.SwapMode), status).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn().
			Err(err).
			Str("input", req.InputMint.String()).
			Str("output", req.OutputMint.String()).
			Uint64("amount", req.Amount).
			Msg("[SwapAPI] quote failed")
	}
	return quote, err
}

func (c *Client) quote(ctx context.Context, req domain.SwapRequest) (*domain.SwapQuote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint.String())
	params.Set("outputMint", req.OutputMint.String())
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(int(req.SlippageBps)))
	params.Set("swapMode", string(req.SwapMode))

	var raw []byte
	if err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	var q quoteResponse
	if err := sonic.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("%w: decode quote: %w", ErrBadResponse, err)
	}

	inAmount, err := parseAmount(q.InAmount)
	if err != nil {
		return nil, err
	}
	outAmount, err := parseAmount(q.OutAmount)
	if err != nil {
		return nil, err
	}
	if inAmount == 0 || outAmount == 0 {
		return nil, ErrNoRoute
	}

	body, err := sonic.Marshal(instructionsRequest{
		UserPublicKey:    req.UserWallet.String(),
		QuoteResponse:    raw,
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, err
	}

	var rawIxs []byte
	if err := c.do(ctx, http.MethodPost, "/swap-instructions", body, &rawIxs); err != nil {
		return nil, err
	}
	var resp instructionsResponse
	if err := sonic.Unmarshal(rawIxs, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode instructions: %w", ErrBadResponse, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, resp.Error)
	}
	if resp.SwapInstruction == nil {
		return nil, fmt.Errorf("%w: missing swap instruction", ErrBadResponse)
	}

	var ixs []solana.Instruction
	for _, group := range [][]instruction{resp.SetupInstructions, {*resp.SwapInstruction}} {
		for _, raw := range group {
			ix, err := raw.decode()
			if err != nil {
				return nil, err
			}
			ixs = append(ixs, ix)
		}
	}
	if resp.CleanupInstruction != nil {
		ix, err := resp.CleanupInstruction.decode()
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
	}

	tables := make([]solana.PublicKey, 0, len(resp.AddressLookupTableAddresses))
	for _, addr := range resp.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: lookup table %q", ErrBadResponse, addr)
		}
		tables = append(tables, pk)
	}

	return &domain.SwapQuote{
		Request:        req,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactBps: priceImpactBps(q.PriceImpactPct),
		Instructions:   ixs,
		LookupTables:   tables,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out *[]byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("swap api %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("swap api %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusBadRequest && bytes.Contains(data, []byte("COULD_NOT_FIND_ANY_ROUTE")) {
		return ErrNoRoute
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d: %s", ErrBadResponse, path, resp.StatusCode, truncate(data, 200))
	}
	*out = data
	return nil
}

func (ix instruction) decode() (solana.Instruction, error) {
	program, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("%w: program id %q", ErrBadResponse, ix.ProgramID)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: instruction data: %w", ErrBadResponse, err)
	}

	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, acc := range ix.Accounts {
		pk, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("%w: account %q", ErrBadResponse, acc.Pubkey)
		}
		metas = append(metas, solana.NewAccountMeta(pk, acc.IsWritable, acc.IsSigner))
	}
	return solana.NewInstruction(program, metas, data), nil
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAmountTooBig, s)
	}
	return v, nil
}

// priceImpactBps converts the API's fractional impact ("0.0012") to bps.
func priceImpactBps(pct string) uint16 {
	v, err := decimal.NewFromString(pct)
	if err != nil {
		return 0
	}
	return fixedpoint.ToBps(v.Abs())
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
