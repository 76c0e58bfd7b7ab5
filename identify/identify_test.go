package identify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var transferSel = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

func newSignatureServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Query().Get("function") {
		case "0xa9059cbb":
			w.Write([]byte(`{"ok":true,"result":{"function":{"0xa9059cbb":[{"name":"transfer(address,uint256)","filtered":false}]}}}`))
		case "0xdeadbeef":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`{"ok":true,"result":{"function":{}}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFunctionSignature(t *testing.T) {
	var hits atomic.Int32
	srv := newSignatureServer(t, &hits)
	s, err := New(Config{SignatureURL: srv.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)
	defer s.Stop()

	ctx := context.Background()
	require.Equal(t, "transfer(address,uint256)", s.FunctionSignature(ctx, transferSel))
	require.Equal(t, "transfer(address,uint256)", s.FunctionSignature(ctx, transferSel))
	require.EqualValues(t, 1, hits.Load(), "second lookup must be cached")

	require.Equal(t, "", s.FunctionSignature(ctx, [4]byte{1, 2, 3, 4}))
	require.Equal(t, "", s.FunctionSignature(ctx, [4]byte{0xde, 0xad, 0xbe, 0xef}))
}

func TestContractName(t *testing.T) {
	var hits atomic.Int32
	token := common.HexToAddress("0x00000000000000000000000000000000000007e1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		if q.Get("apikey") != "key" || q.Get("chainid") != "10" {
			w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid API Key"}`))
			return
		}
		if q.Get("address") == token.Hex() {
			w.Write([]byte(`{"status":"1","message":"OK","result":[{"ContractName":"WETH9"}]}`))
			return
		}
		w.Write([]byte(`{"status":"1","message":"OK","result":[{"ContractName":""}]}`))
	}))
	defer srv.Close()

	s, err := New(Config{EtherscanURL: srv.URL, EtherscanKey: "key", RequestsPerSecond: 1000})
	require.NoError(t, err)
	defer s.Stop()

	ctx := context.Background()
	dec := s.ForChain(10)
	require.Equal(t, "WETH9", dec.ContractName(ctx, token))
	require.Equal(t, "WETH9", dec.ContractName(ctx, token))
	require.EqualValues(t, 1, hits.Load())

	require.Equal(t, "", dec.ContractName(ctx, common.Address{0x01}))
	require.Equal(t, "", s.ForChain(1).ContractName(ctx, token))
}

func TestNoEtherscanKey(t *testing.T) {
	s, err := New(Config{EtherscanURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	defer s.Stop()
	require.Equal(t, "", s.ContractName(context.Background(), 1, common.Address{0x01}))
}

func TestEtherscanRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") == (common.Address{0x01}).Hex() {
			w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
			return
		}
		w.Write([]byte(`{"status":"0","message":"NOTOK","result":{"unexpected":true}}`))
	}))
	defer srv.Close()

	s, err := New(Config{EtherscanURL: srv.URL, EtherscanKey: "key", RequestsPerSecond: 1000})
	require.NoError(t, err)
	defer s.Stop()

	ctx := context.Background()
	_, err = s.fetchName(ctx, 1, common.Address{0x01})
	require.EqualError(t, err, "etherscan: NOTOK Max rate limit reached")
	_, err = s.fetchName(ctx, 1, common.Address{0x02})
	require.EqualError(t, err, "etherscan: NOTOK")
	require.Equal(t, "", s.ContractName(ctx, 1, common.Address{0x02}))
}
