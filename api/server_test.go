package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clydemeng/forksim/chains"
	"github.com/clydemeng/forksim/core"
	"github.com/clydemeng/forksim/forkbridge"
	"github.com/clydemeng/forksim/session"
)

const devChain = 1337

var (
	sender  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	counter = common.HexToAddress("0x3000000000000000000000000000000000000003")

	// counterCode returns slot 0 without calldata and stores the first
	// calldata word into slot 0 otherwise.
	counterCode = common.FromHex("0x36600f5760005460005260206000f35b60003560005500")
)

func newTestBackend(t *testing.T) *core.Simulator {
	t.Helper()
	alloc := types.GenesisAlloc{
		sender:  {Balance: big.NewInt(1_000_000)},
		counter: {Code: counterCode, Storage: map[common.Hash]common.Hash{{}: common.BigToHash(big.NewInt(0x2a))}},
	}
	eng := forkbridge.New(forkbridge.Config{Dev: forkbridge.NewMemoryReader(devChain, alloc, 100, 1_700_000_000)})
	store := session.NewStore(session.Config{})
	t.Cleanup(store.Close)
	return core.NewSimulator(eng, chains.NewRegistry(map[uint64]string{devChain: "dev"}), store, nil, core.Config{})
}

func testRequest(t *testing.T, h http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	switch p := payload.(type) {
	case nil:
	case string:
		body = []byte(p)
	default:
		var err error
		body, err = json.Marshal(p)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Add("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) httpErrorResp {
	t.Helper()
	var resp httpErrorResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, rr.Code, resp.Code)
	return resp
}

func tx(data string) map[string]any {
	m := map[string]any{
		"chainId":  devChain,
		"from":     sender.Hex(),
		"to":       counter.Hex(),
		"gasLimit": 100000,
	}
	if data != "" {
		m["data"] = data
	}
	return m
}

func TestHealth(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{}).Handler()
	rr := testRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSimulateRoute(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{}).Handler()
	for _, path := range []string{"/simulate", "/api/v1/simulate"} {
		rr := testRequest(t, h, http.MethodPost, path, tx(""))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var res map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
		require.Equal(t, true, res["success"])
		require.EqualValues(t, 1, res["simulationId"])
		require.Equal(t, "Return", res["exitReason"])
		require.Contains(t, res, "formattedTrace")
		require.Nil(t, res["formattedTrace"])
	}
}

func TestSimulateErrors(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{}).Handler()

	rr := testRequest(t, h, http.MethodPost, "/simulate", "{not json")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.True(t, strings.HasPrefix(decodeError(t, rr).Message, "BAD_REQUEST: "))

	unknown := tx("")
	unknown["chainId"] = 99
	rr = testRequest(t, h, http.MethodPost, "/simulate", unknown)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "CHAIN_ID_NOT_SUPPORTED", decodeError(t, rr).Message)

	starved := tx("")
	starved["gasLimit"] = 1000
	rr = testRequest(t, h, http.MethodPost, "/simulate", starved)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "OUT_OF_GAS", decodeError(t, rr).Message)

	rr = testRequest(t, h, http.MethodPost, "/simulate-bundle", []any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = testRequest(t, h, http.MethodGet, "/simulate", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rr).Message)

	rr = testRequest(t, h, http.MethodPost, "/nowhere", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", decodeError(t, rr).Message)
}

func TestSimulateBundleRoute(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{}).Handler()
	word := "0x" + strings.Repeat("0", 63) + "7"
	rr := testRequest(t, h, http.MethodPost, "/simulate-bundle", []any{tx(word), tx("")})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res, 2)
	require.EqualValues(t, 1, res[0]["simulationId"])
	require.EqualValues(t, 2, res[1]["simulationId"])
	require.Equal(t, "0x"+strings.Repeat("0", 63)+"7", res[1]["returnData"])
}

func TestStatefulFlow(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{}).Handler()

	rr := testRequest(t, h, http.MethodPost, "/simulate-stateful", map[string]any{
		"chainId":  devChain,
		"gasLimit": 500000,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var created core.StatefulResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	path := "/simulate-stateful/" + created.StatefulSimulationID.String()

	word := "0x" + strings.Repeat("0", 62) + "63"
	rr = testRequest(t, h, http.MethodPost, path, []any{tx(word)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Committed state is visible to the next request on the same session.
	rr = testRequest(t, h, http.MethodPost, "/api/v1"+path, []any{tx("")})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, word, res[0]["returnData"])

	rr = testRequest(t, h, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ended core.EndResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ended))
	require.True(t, ended.Success)

	rr = testRequest(t, h, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "STATE_NOT_FOUND", decodeError(t, rr).Message)

	rr = testRequest(t, h, http.MethodPost, path, []any{tx("")})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = testRequest(t, h, http.MethodPost, "/simulate-stateful/"+uuid.NewString(), "[]")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "STATE_NOT_FOUND", decodeError(t, rr).Message)

	rr = testRequest(t, h, http.MethodDelete, "/simulate-stateful/not-a-uuid", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPIKey(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{APIKey: "secret"}).Handler()

	rr := testRequest(t, h, http.MethodPost, "/simulate", tx(""))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "UNAUTHORIZED", decodeError(t, rr).Message)

	body, _ := json.Marshal(tx(""))
	req := httptest.NewRequest(http.MethodPost, "/simulate", bytes.NewReader(body))
	req.Header.Set(APIKeyHeader, "wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/simulate", bytes.NewReader(body))
	req.Header.Set(APIKeyHeader, "secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Health stays open.
	rr = testRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestSizeLimit(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{MaxRequestSize: 64}).Handler()
	rr := testRequest(t, h, http.MethodPost, "/simulate", tx("0x"+strings.Repeat("00", 128)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rr).Message)
}

type panicBackend struct{ *core.Simulator }

func (panicBackend) Simulate(context.Context, *core.TransactionRequest) (*core.SimulationResult, error) {
	panic("boom")
}

func (panicBackend) EndSession(uuid.UUID) error {
	return core.NewError(core.KindEngine, "secret detail", nil)
}

func TestPanicsAndServerErrors(t *testing.T) {
	h := NewServer(panicBackend{}, Config{}).Handler()

	rr := testRequest(t, h, http.MethodPost, "/simulate", tx(""))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "UNHANDLED_REJECTION", decodeError(t, rr).Message)

	rr = testRequest(t, h, http.MethodDelete, "/simulate-stateful/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "EVM_ERROR", decodeError(t, rr).Message)
}

func TestCors(t *testing.T) {
	h := NewServer(newTestBackend(t), Config{CorsOrigins: []string{"https://app.example"}}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))
}
