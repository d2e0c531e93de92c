package swapapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/leverage-keeper/internal/domain"
)

var (
	solMint    = solana.NewWallet().PublicKey()
	usdcMint   = solana.NewWallet().PublicKey()
	routerProg = solana.NewWallet().PublicKey()
	table      = solana.NewWallet().PublicKey()
)

func instructionJSON(program solana.PublicKey, user solana.PublicKey, data []byte) string {
	return fmt.Sprintf(`{"programId":%q,"accounts":[{"pubkey":%q,"isSigner":true,"isWritable":true}],"data":%q}`,
		program, user, base64.StdEncoding.EncodeToString(data))
}

func newTestServer(t *testing.T, user solana.PublicKey, gotQuote *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ExactOut", r.URL.Query().Get("swapMode"))
		assert.Equal(t, "45", r.URL.Query().Get("slippageBps"))
		fmt.Fprintf(w, `{"inputMint":%q,"inAmount":"1010000000","outputMint":%q,"outAmount":"100000000","swapMode":"ExactOut","slippageBps":45,"priceImpactPct":"0.0012","routePlan":[]}`,
			solMint, usdcMint)
	})
	mux.HandleFunc("/swap-instructions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req struct {
			UserPublicKey string                 `json:"userPublicKey"`
			QuoteResponse map[string]interface{} `json:"quoteResponse"`
		}
		require.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, user.String(), req.UserPublicKey)
		*gotQuote, _ = req.QuoteResponse["outAmount"].(string)

		fmt.Fprintf(w, `{
			"computeBudgetInstructions":[%s],
			"setupInstructions":[%s],
			"swapInstruction":%s,
			"cleanupInstruction":%s,
			"addressLookupTableAddresses":[%q]
		}`,
			instructionJSON(solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111"), user, []byte{2}),
			instructionJSON(routerProg, user, []byte{1}),
			instructionJSON(routerProg, user, []byte{7, 7}),
			instructionJSON(routerProg, user, []byte{9}),
			table)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestQuote(t *testing.T) {
	user := solana.NewWallet().PublicKey()
	var echoed string
	srv := newTestServer(t, user, &echoed)
	client := NewClient(srv.URL+"/", 100)

	quote, err := client.Quote(context.Background(), domain.SwapRequest{
		UserWallet:  user,
		InputMint:   solMint,
		OutputMint:  usdcMint,
		Amount:      100_000_000,
		SwapMode:    domain.SwapModeExactOut,
		SlippageBps: 45,
	})
	require.NoError(t, err)

	assert.Equal(t, "100000000", echoed, "quote is forwarded verbatim")
	assert.Equal(t, uint64(1_010_000_000), quote.InAmount)
	assert.Equal(t, uint64(100_000_000), quote.OutAmount)
	assert.Equal(t, uint16(12), quote.PriceImpactBps)
	assert.Equal(t, []solana.PublicKey{table}, quote.LookupTables)

	require.Len(t, quote.Instructions, 3, "compute budget instructions are dropped")
	data, err := quote.Instructions[1].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7}, data)
	for _, ix := range quote.Instructions {
		assert.Equal(t, routerProg, ix.ProgramID())
		assert.True(t, ix.Accounts()[0].IsSigner)
	}
}

func TestQuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 100).Quote(context.Background(), domain.SwapRequest{Amount: 1, SwapMode: domain.SwapModeExactIn})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestQuoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 100).Quote(context.Background(), domain.SwapRequest{Amount: 1, SwapMode: domain.SwapModeExactIn})
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.ErrorContains(t, err, "500")
}

func TestPriceImpactBps(t *testing.T) {
	assert.Equal(t, uint16(0), priceImpactBps(""))
	assert.Equal(t, uint16(12), priceImpactBps("-0.0012"))
	assert.Equal(t, uint16(250), priceImpactBps("0.025"))
}
