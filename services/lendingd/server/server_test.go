package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lendledger/core/events"
	"lendledger/native/lending"
	"lendledger/services/lendingd/config"
	"lendledger/services/lendingd/journal"
	"lendledger/services/lendingd/pool"
	"lendledger/storage"
)

const apiToken = "test-token-0123456789"

var (
	dai        = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	ape        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	depositor  = common.HexToAddress("0x0000000000000000000000000000000000000101")
	borrower   = common.HexToAddress("0x0000000000000000000000000000000000000102")
	liquidator = common.HexToAddress("0x0000000000000000000000000000000000000103")
)

func units(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)).String()
}

type harness struct {
	t       *testing.T
	now     time.Time
	pool    *pool.Pool
	journal *journal.Journal
	handler http.Handler
}

type harnessOption func(*Config, *pool.Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Unix(1_700_000_000, 0)}

	markets, err := lending.LoadMarketsConfig("../testdata/markets.toml")
	require.NoError(t, err)

	db, err := journal.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	h.journal, err = journal.New(db, nil)
	require.NoError(t, err)

	poolOpts := pool.Options{Clock: func() time.Time { return h.now }, Emitter: events.Fanout{h.journal}}
	cfg := Config{
		Auth:      config.AuthConfig{APITokens: []string{apiToken}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Events:    h.journal,
		Metrics:   true,
	}
	for _, opt := range opts {
		opt(&cfg, &poolOpts)
	}
	h.pool, err = pool.Open(storage.NewMemDB(), markets, poolOpts)
	require.NoError(t, err)
	cfg.Engine = h.pool.Engine
	cfg.Prices = h.pool.Prices
	cfg.Custody = h.pool.Custody()
	h.handler = New(cfg).Handler()
	return h
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) post(path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodPost, path, body, map[string]string{"Authorization": "Bearer " + apiToken})
}

func (h *harness) mustPost(path string, body any) map[string]any {
	h.t.Helper()
	rec := h.post(path, body)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(h.t, rec)
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodGet, path, nil, nil)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seed funds the depositor and gives the borrower one WETH of collateral.
func (h *harness) seed() {
	h.mustPost("/v1/bank/mint", map[string]string{"asset": dai.Hex(), "to": depositor.Hex(), "amount": units(10_000)})
	h.mustPost("/v1/bank/mint", map[string]string{"asset": weth.Hex(), "to": borrower.Hex(), "amount": units(1)})
	h.mustPost("/v1/supply", map[string]string{"asset": dai.Hex(), "user": depositor.Hex(), "amount": units(10_000)})
	h.mustPost("/v1/supply", map[string]string{"asset": weth.Hex(), "user": borrower.Hex(), "amount": units(1)})
}

func TestReadRoutesArePublic(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/v1/reserves")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Reserves []reserveView `json:"reserves"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Reserves, 3)
	require.Equal(t, dai.Hex(), list.Reserves[0].Asset)
	require.Equal(t, "non_fungible", list.Reserves[2].Class)

	rec = h.get("/v1/reserves/" + weth.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var reserve reserveView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reserve))
	require.Equal(t, uint64(8000), reserve.Configuration.LTV)
	require.Equal(t, "1000000000000000000000000000", reserve.LiquidityIndex)

	rec = h.get("/v1/reserves/0x00000000000000000000000000000000000000ff")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.get("/v1/reserves/not-an-address")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMutationsRequireAuthentication(t *testing.T) {
	h := newHarness(t)
	body := map[string]string{"asset": dai.Hex(), "to": depositor.Hex(), "amount": "1"}

	rec := h.do(http.MethodPost, "/v1/bank/mint", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/bank/mint", body, map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/bank/mint", body, map[string]string{"X-API-Token": apiToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.get("/v1/balances/" + dai.Hex() + "/" + depositor.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", decodeBody(t, rec)["balance"])
}

func TestLendingFlow(t *testing.T) {
	h := newHarness(t)
	h.seed()

	h.mustPost("/v1/borrow", map[string]string{"asset": dai.Hex(), "user": borrower.Hex(), "amount": units(1_000)})

	rec := h.get("/v1/accounts/" + borrower.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var account accountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	require.Equal(t, "100000000000", account.TotalDebtBase)
	require.Equal(t, "200000000000", account.TotalCollateralBase)
	require.Len(t, account.Reserves, 2)

	h.now = h.now.Add(24 * time.Hour)
	h.mustPost("/v1/bank/mint", map[string]string{"asset": dai.Hex(), "to": borrower.Hex(), "amount": units(10)})
	repaid := h.mustPost("/v1/repay", map[string]string{"asset": dai.Hex(), "user": borrower.Hex(), "amount": "max"})
	repaidAmount, ok := new(big.Int).SetString(repaid["amount"].(string), 10)
	require.True(t, ok)
	thousand, _ := new(big.Int).SetString(units(1_000), 10)
	require.Equal(t, 1, repaidAmount.Cmp(thousand), "interest accrued over a day")

	withdrawn := h.mustPost("/v1/withdraw", map[string]string{"asset": weth.Hex(), "user": borrower.Hex(), "amount": "max"})
	require.Equal(t, units(1), withdrawn["amount"])

	rec = h.get("/v1/events?type=" + events.TypeLendingRepay)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Events []eventView `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Events, 1)
	require.Equal(t, borrower.Hex(), listed.Events[0].Attributes["user"])
}

func TestEngineRejectionsMapToStatus(t *testing.T) {
	h := newHarness(t)
	h.seed()

	rec := h.post("/v1/borrow", map[string]string{"asset": dai.Hex(), "user": borrower.Hex(), "amount": units(1_601)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.Contains(t, decodeBody(t, rec)["error"], "collateral cannot cover new borrow")

	rec = h.post("/v1/borrow", map[string]string{"asset": dai.Hex(), "user": borrower.Hex(), "amount": "-5"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.post("/v1/borrow", map[string]any{"asset": dai.Hex(), "user": borrower.Hex(), "amount": "1", "extra": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.post("/v1/liquidate", map[string]any{
		"collateralAsset": weth.Hex(), "debtAsset": dai.Hex(),
		"user": borrower.Hex(), "liquidator": liquidator.Hex(), "debtToCover": "max",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = h.get("/v1/auctions/" + ape.Hex() + "/7")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFungibleLiquidationOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.seed()
	h.mustPost("/v1/borrow", map[string]string{"asset": dai.Hex(), "user": borrower.Hex(), "amount": units(1_600)})
	h.mustPost("/v1/oracle/prices", map[string]any{"prices": []map[string]string{
		{"asset": weth.Hex(), "price": "180000000000"},
	}})
	h.mustPost("/v1/bank/mint", map[string]string{"asset": dai.Hex(), "to": liquidator.Hex(), "amount": units(2_000)})

	// Half the debt would leave 800 DAI, under the default 2000 dust floor,
	// so the whole position can be closed.
	out := h.mustPost("/v1/liquidate", map[string]any{
		"collateralAsset": weth.Hex(), "debtAsset": dai.Hex(),
		"user": borrower.Hex(), "liquidator": liquidator.Hex(), "debtToCover": "max",
	})
	require.Equal(t, units(1_600), out["debtRepaid"])

	balance := h.pool.Bank.BalanceOf(weth, liquidator)
	require.Equal(t, 1, balance.Sign())
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.mustPost("/v1/bank/mint", map[string]string{"asset": dai.Hex(), "to": depositor.Hex(), "amount": units(10_000)})
	h.mustPost("/v1/supply", map[string]string{"asset": dai.Hex(), "user": depositor.Hex(), "amount": units(10_000)})
	h.mustPost("/v1/bank/mint", map[string]string{"asset": ape.Hex(), "to": borrower.Hex(), "tokenId": "7"})
	h.mustPost("/v1/supply", map[string]any{"asset": ape.Hex(), "user": borrower.Hex(), "tokenIds": []string{"7"}})
	h.mustPost("/v1/borrow", map[string]string{"asset": dai.Hex(), "user": borrower.Hex(), "amount": units(2_500)})

	start := map[string]string{"asset": ape.Hex(), "tokenId": "7", "user": borrower.Hex()}
	rec := h.post("/v1/auctions/start", start)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	h.mustPost("/v1/oracle/prices", map[string]any{"prices": []map[string]string{
		{"asset": ape.Hex(), "price": "300000000000"},
	}})
	h.mustPost("/v1/auctions/start", start)
	rec = h.post("/v1/auctions/start", start)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = h.get("/v1/auctions/" + ape.Hex() + "/7")
	require.Equal(t, http.StatusOK, rec.Code)
	var auction auctionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auction))
	require.Equal(t, "30000", auction.Multiplier)
	require.Equal(t, "900000000000", auction.Price)
	require.Equal(t, borrower.Hex(), auction.Owner)
	require.False(t, auction.Stale)

	h.now = h.now.Add(10 * time.Minute)
	h.mustPost("/v1/bank/mint", map[string]string{"asset": dai.Hex(), "to": liquidator.Hex(), "amount": units(10_000)})
	out := h.mustPost("/v1/auctions/liquidate", map[string]any{
		"collateralAsset":  ape.Hex(),
		"liquidationAsset": dai.Hex(),
		"tokenId":          "7",
		"user":             borrower.Hex(),
		"liquidator":       liquidator.Hex(),
	})
	require.Equal(t, units(8_850), out["price"])
	require.Equal(t, "0", out["badDebt"])

	owner, ok := h.pool.Bank.OwnerOf(ape, big.NewInt(7))
	require.True(t, ok)
	require.Equal(t, liquidator, owner)

	rec = h.get("/v1/events?type=" + events.TypeLendingAuctionEnded)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reason":"liquidated"`)
}

func TestPriceRecoveryEndsAuctionOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.mustPost("/v1/bank/mint", map[string]string{"asset": dai.Hex(), "to": depositor.Hex(), "amount": units(10_000)})
	h.mustPost("/v1/supply", map[string]string{"asset": dai.Hex(), "user": depositor.Hex(), "amount": units(10_000)})
	h.mustPost("/v1/bank/mint", map[string]string{"asset": ape.Hex(), "to": borrower.Hex(), "tokenId": "7"})
	h.mustPost("/v1/supply", map[string]any{"asset": ape.Hex(), "user": borrower.Hex(), "tokenIds": []string{"7"}})
	h.mustPost("/v1/borrow", map[string]string{"asset": dai.Hex(), "user": borrower.Hex(), "amount": units(2_500)})

	setApe := func(price string) map[string]any {
		return h.mustPost("/v1/oracle/prices", map[string]any{"prices": []map[string]string{
			{"asset": ape.Hex(), "price": price},
		}})
	}
	start := map[string]string{"asset": ape.Hex(), "tokenId": "7", "user": borrower.Hex()}
	setApe("300000000000")
	h.mustPost("/v1/auctions/start", start)
	h.now = h.now.Add(300 * time.Minute)

	out := setApe("1000000000000")
	require.Equal(t, float64(1), out["auctionsSettled"])
	out = setApe("350000000000")
	require.Equal(t, float64(0), out["auctionsSettled"])

	rec := h.get("/v1/auctions/" + ape.Hex() + "/7")
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	rec = h.get("/v1/events?type=" + events.TypeLendingAuctionEnded)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reason":"recovered"`)

	h.mustPost("/v1/auctions/start", start)
	rec = h.get("/v1/auctions/" + ape.Hex() + "/7")
	require.Equal(t, http.StatusOK, rec.Code)
	var auction auctionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auction))
	require.Equal(t, "30000", auction.Multiplier)
	require.Equal(t, uint64(h.now.Unix()), auction.StartTime)
}

func TestPausedModuleIsUnavailable(t *testing.T) {
	h := newHarness(t, func(_ *Config, opts *pool.Options) {
		opts.PausedModules = []string{"lending"}
	})
	h.mustPost("/v1/bank/mint", map[string]string{"asset": dai.Hex(), "to": depositor.Hex(), "amount": "1"})
	rec := h.post("/v1/supply", map[string]string{"asset": dai.Hex(), "user": depositor.Hex(), "amount": "1"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitRejectsBursts(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *pool.Options) {
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})
	require.Equal(t, http.StatusOK, h.get("/healthz").Code)
	require.Equal(t, http.StatusTooManyRequests, h.get("/healthz").Code)
}

func TestRequestIDs(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/healthz")
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)

	id := uuid.NewString()
	rec = h.do(http.MethodGet, "/healthz", nil, map[string]string{requestIDHeader: id})
	require.Equal(t, id, rec.Header().Get(requestIDHeader))

	rec = h.do(http.MethodGet, "/healthz", nil, map[string]string{requestIDHeader: "not-a-uuid"})
	require.NotEqual(t, "not-a-uuid", rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.get("/v1/reserves").Code)
	rec := h.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "lendledger_api_requests_total"))
}

func TestParseBearerToken(t *testing.T) {
	require.Equal(t, "abc", parseBearerToken("Bearer abc"))
	require.Equal(t, "abc", parseBearerToken(" bearer  abc "))
	require.Empty(t, parseBearerToken("Basic abc"))
	require.Empty(t, parseBearerToken("Bearer"))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[error]int{
		nil:                                      http.StatusOK,
		lending.ErrReserveNotListed:              http.StatusNotFound,
		lending.ErrPriceUnavailable:              http.StatusServiceUnavailable,
		lending.ErrNotTokenOwner:                 http.StatusForbidden,
		lending.ErrInvalidAmount:                 http.StatusBadRequest,
		lending.ErrAuctionAlreadyActive:          http.StatusConflict,
		lending.ErrHealthFactorNotBelowThreshold: http.StatusUnprocessableEntity,
		fmt.Errorf("disk: %w", errBadRequest):    http.StatusBadRequest,
		fmt.Errorf("unexpected"):                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, httpStatus(err), "%v", err)
	}
}
