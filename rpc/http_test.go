package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"nftmarket/core/state"
	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/indexer"
	"nftmarket/native/bank"
	"nftmarket/native/collectible"
	"nftmarket/native/market"
	"nftmarket/observability/logging"
	"nftmarket/storage"
)

const testToken = "secret-token"

var (
	ownerID    = crypto.DeriveIdentity("rpc-owner")
	feeID      = crypto.DeriveIdentity("rpc-fees")
	marketID   = crypto.DeriveIdentity("rpc-market")
	contractID = crypto.DeriveIdentity("rpc-punks")
	sellerID   = crypto.DeriveIdentity("rpc-seller")
	buyerID    = crypto.DeriveIdentity("rpc-buyer")
)

type fixture struct {
	server *Server
	ledger *bank.Ledger
	state  *state.Manager
	buf    *bytes.Buffer
}

func coins(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000))
}

func newFixture(t *testing.T, cfg ServerConfig, archive EventArchive) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	registry := collectible.NewRegistry(manager)
	ledger := bank.NewLedger(manager, registry)

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	require.NoError(t, engine.Init(market.Genesis{
		Owner:              ownerID,
		FeeReceiver:        feeID,
		MarketAddress:      marketID,
		FeeRate:            20,
		SupportedContracts: [][20]byte{contractID},
	}))
	require.NoError(t, registry.Mint(contractID, "punk-1", sellerID))
	require.NoError(t, registry.SetApprovalForAll(contractID, sellerID, marketID, true))
	require.NoError(t, ledger.Credit(buyerID, coins(5000)))
	require.NoError(t, manager.Commit())

	if cfg.AuthToken == "" {
		cfg.AuthToken = testToken
	}
	buf := &bytes.Buffer{}
	server := NewServer(engine, ledger, archive, cfg, logging.New(buf, "rpc-test", "test"))
	server.SetCollectibles(registry)
	return &fixture{server: server, ledger: ledger, state: manager, buf: buf}
}

func (f *fixture) call(t *testing.T, token, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 7, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(string(body)))
	req.RemoteAddr = "192.0.2.10:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func decodeResult(t *testing.T, resp RPCResponse, dst interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func (f *fixture) buyerPurse(t *testing.T, amount *uint256.Int) string {
	t.Helper()
	id, err := f.ledger.CreatePurse(buyerID)
	require.NoError(t, err)
	require.NoError(t, f.ledger.AccountToPurse(buyerID, id, amount))
	require.NoError(t, f.state.Commit())
	return formatPurseID(id)
}

func listParamsFor(price *uint256.Int) listParams {
	return listParams{
		Caller:   crypto.FormatAccount(sellerID),
		Contract: crypto.FormatContract(contractID),
		AssetID:  "punk-1",
		Price:    price.Dec(),
	}
}

func TestMutatingMethodRequiresBearerToken(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)

	status, resp := f.call(t, "", "market_list", listParamsFor(coins(300)))
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = f.call(t, "wrong", "market_list", listParamsFor(coins(300)))
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid RPC credentials", resp.Error.Message)
}

func TestListAndReadBack(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)

	status, resp := f.call(t, testToken, "market_list", listParamsFor(coins(300)))
	require.Equal(t, http.StatusOK, status)
	var listing listingJSON
	decodeResult(t, resp, &listing)
	require.Equal(t, "active", listing.State)
	require.Equal(t, crypto.FormatAccount(sellerID), listing.Seller)
	require.Equal(t, coins(300).Dec(), listing.Price)

	_, resp = f.call(t, "", "market_getListing", lookupParams{AssetID: "punk-1"})
	decodeResult(t, resp, &listing)
	require.Equal(t, "active", listing.State)

	_, resp = f.call(t, "", "market_listings", nil)
	var all []listingJSON
	decodeResult(t, resp, &all)
	require.Len(t, all, 1)
}

func TestBidCrossingAskSettles(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)
	_, resp := f.call(t, testToken, "market_list", listParamsFor(coins(300)))
	require.Nil(t, resp.Error)

	source := f.buyerPurse(t, coins(400))
	status, resp := f.call(t, testToken, "market_bid", fundedParams{
		Caller:   crypto.FormatAccount(buyerID),
		Contract: crypto.FormatContract(contractID),
		AssetID:  "punk-1",
		Amount:   coins(400).Dec(),
		Source:   source,
	})
	require.Equal(t, http.StatusOK, status)
	var listing listingJSON
	decodeResult(t, resp, &listing)
	require.Equal(t, "unlisted", listing.State)
	require.Empty(t, listing.Bids)

	_, resp = f.call(t, "", "bank_balance", balanceParams{Address: crypto.FormatAccount(sellerID)})
	var balance map[string]string
	decodeResult(t, resp, &balance)
	fee, proceeds := market.SplitFee(coins(300), 20)
	require.Equal(t, proceeds.Dec(), balance["balance"])
	require.False(t, fee.IsZero())
}

func TestDepositBuysListedAsset(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)
	_, resp := f.call(t, testToken, "market_list", listParamsFor(coins(300)))
	require.Nil(t, resp.Error)

	status, resp := f.call(t, testToken, "market_deposit", depositParams{
		Caller:     crypto.FormatAccount(buyerID),
		Amount:     coins(350).Dec(),
		EntryPoint: market.EntryPointBuy,
		Contract:   crypto.FormatContract(contractID),
		AssetID:    "punk-1",
	})
	require.Equal(t, http.StatusOK, status)
	var listing listingJSON
	decodeResult(t, resp, &listing)
	require.Equal(t, "unlisted", listing.State)

	balance, err := f.ledger.Balance(buyerID)
	require.NoError(t, err)
	require.Equal(t, coins(4700), balance)
}

func TestEngineErrorsMapToKindCodes(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)
	_, resp := f.call(t, testToken, "market_list", listParamsFor(coins(300)))
	require.Nil(t, resp.Error)

	status, resp := f.call(t, testToken, "market_changePrice", changePriceParams{
		Caller:  crypto.FormatAccount(buyerID),
		AssetID: "punk-1",
		Price:   coins(10).Dec(),
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeMarketAuthorization, resp.Error.Code)

	status, resp = f.call(t, testToken, "market_revoke", assetParams{
		Caller:   crypto.FormatAccount(sellerID),
		Contract: crypto.FormatContract(contractID),
		AssetID:  "missing",
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeMarketState, resp.Error.Code)

	status, resp = f.call(t, testToken, "market_changeFee", adminParams{
		Caller:  crypto.FormatAccount(ownerID),
		FeeRate: 500,
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeMarketFunds, resp.Error.Code)

	status, resp = f.call(t, testToken, "market_list", listParamsFor(uint256.NewInt(0)))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeMarketValidation, resp.Error.Code)
}

func TestInvalidParamsRejected(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)

	params := listParamsFor(coins(1))
	params.Caller = crypto.FormatContract(sellerID)
	status, resp := f.call(t, testToken, "market_list", params)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = f.call(t, testToken, "market_bid", fundedParams{
		Caller:   crypto.FormatAccount(buyerID),
		Contract: crypto.FormatContract(contractID),
		AssetID:  "punk-1",
		Amount:   "12",
		Source:   "0x1234",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, resp.Error.Data, "source")
}

func TestAdminUpdatesParams(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)

	_, resp := f.call(t, testToken, "market_changeFee", adminParams{
		Caller:  crypto.FormatAccount(ownerID),
		FeeRate: 35,
	})
	var params paramsJSON
	decodeResult(t, resp, &params)
	require.EqualValues(t, 35, params.FeeRate)
	require.Equal(t, []string{crypto.FormatContract(contractID)}, params.SupportedContracts)

	_, resp = f.call(t, "", "market_params", nil)
	decodeResult(t, resp, &params)
	require.Equal(t, market.DefaultMinBid.Dec(), params.MinBid)
	require.Equal(t, "0", params.EscrowBalance)
}

func TestMethodNotFound(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)
	status, resp := f.call(t, testToken, "market_explode", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestMutatingRequestsAreRateLimited(t *testing.T) {
	f := newFixture(t, ServerConfig{RateLimitPerMinute: 1, RateLimitBurst: 1}, nil)

	_, resp := f.call(t, testToken, "market_list", listParamsFor(coins(300)))
	require.Nil(t, resp.Error)
	status, resp := f.call(t, testToken, "market_changePrice", changePriceParams{
		Caller:  crypto.FormatAccount(sellerID),
		AssetID: "punk-1",
		Price:   coins(250).Dec(),
	})
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)

	// Reads are not throttled.
	_, resp = f.call(t, "", "market_getListing", lookupParams{AssetID: "punk-1"})
	require.Nil(t, resp.Error)
}

type stubArchive struct {
	records []indexer.EventRecord
	asset   string
}

func (s *stubArchive) Recent(_ context.Context, assetID string, _ int) ([]indexer.EventRecord, error) {
	s.asset = assetID
	return s.records, nil
}

func TestEventsServedFromArchive(t *testing.T) {
	archive := &stubArchive{records: []indexer.EventRecord{{
		ID:         uuid.New(),
		Sequence:   3,
		Type:       market.EventTypeListed,
		AssetID:    "punk-1",
		Attributes: `{"assetId":"punk-1"}`,
		CreatedAt:  time.Unix(1_700_000_000, 0),
	}}}
	f := newFixture(t, ServerConfig{}, archive)

	_, resp := f.call(t, "", "market_events", eventsParams{AssetID: "punk-1"})
	var out []eventJSON
	decodeResult(t, resp, &out)
	require.Len(t, out, 1)
	require.Equal(t, "punk-1", archive.asset)
	require.Equal(t, market.EventTypeListed, out[0].Type)
	require.Equal(t, "punk-1", out[0].Attributes["assetId"])
	require.EqualValues(t, 1_700_000_000, out[0].CreatedAt)
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"market_params"}`))
	rec = httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid JSON payload")
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	f := newFixture(t, ServerConfig{}, nil)
	hub := NewEventHub(8)
	f.server.SetEventHub(hub)
	f.server.engine.SetEmitter(hub)

	srv := httptest.NewServer(f.server.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events?assetId=punk-1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.subs) == 1
	}, time.Second, 10*time.Millisecond)

	_, resp := f.call(t, testToken, "market_list", listParamsFor(coins(300)))
	require.Nil(t, resp.Error)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, market.EventTypeListed, evt.Type)
	require.Equal(t, "punk-1", evt.Attributes["assetId"])
}

func TestEventHubFiltersByAsset(t *testing.T) {
	hub := NewEventHub(1)
	all, cancelAll := hub.Subscribe("")
	defer cancelAll()
	other, cancelOther := hub.Subscribe("punk-2")
	defer cancelOther()

	listing := market.NewListing(contractID, "punk-1")
	hub.Emit(&recordedEvent{evt: market.NewBidRevokedEvent(listing, buyerID, coins(1))})
	// Full buffers drop instead of blocking.
	hub.Emit(&recordedEvent{evt: market.NewBidRevokedEvent(listing, buyerID, coins(2))})

	got := <-all
	require.Equal(t, market.EventTypeBidRevoked, got.Type)
	require.Equal(t, coins(1).Dec(), got.Attributes["value"])
	select {
	case evt := <-other:
		t.Fatalf("unexpected event for other asset: %v", evt)
	default:
	}
}

type recordedEvent struct {
	evt *types.Event
}

func (r *recordedEvent) EventType() string   { return r.evt.Type }
func (r *recordedEvent) Event() *types.Event { return r.evt }
