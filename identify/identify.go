// Package identify resolves function signatures and contract names for
// formatted traces. Every lookup is best-effort: failures yield "" and are
// only logged.
package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/clydemeng/forksim/calltrace"
)

const (
	DefaultSignatureURL = "https://api.openchain.xyz/signature-database/v1/lookup"
	DefaultEtherscanURL = "https://api.etherscan.io/v2/api"
)

// Config configures the lookup service.
type Config struct {
	SignatureURL string
	EtherscanURL string
	// EtherscanKey enables contract name lookups.
	EtherscanKey string

	RequestsPerSecond float64
	Timeout           time.Duration
	Retries           int

	SignatureCacheSize int
	NameCacheSize      uint64
	NameTTL            time.Duration
}

func (c *Config) sanitize() {
	if c.SignatureURL == "" {
		c.SignatureURL = DefaultSignatureURL
	}
	if c.EtherscanURL == "" {
		c.EtherscanURL = DefaultEtherscanURL
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.SignatureCacheSize <= 0 {
		c.SignatureCacheSize = 4096
	}
	if c.NameCacheSize == 0 {
		c.NameCacheSize = 4096
	}
	if c.NameTTL <= 0 {
		c.NameTTL = time.Hour
	}
}

type nameKey struct {
	chainID uint64
	addr    common.Address
}

// Service performs and caches lookups. It is safe for concurrent use.
type Service struct {
	cfg     Config
	client  *retryablehttp.Client
	limiter *rate.Limiter
	group   singleflight.Group

	signatures *lru.Cache[[4]byte, string]
	names      *ttlcache.Cache[nameKey, string]
}

// New creates a Service. Stop must be called to release the name cache.
func New(cfg Config) (*Service, error) {
	cfg.sanitize()
	signatures, err := lru.New[[4]byte, string](cfg.SignatureCacheSize)
	if err != nil {
		return nil, err
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil

	names := ttlcache.New[nameKey, string](
		ttlcache.WithTTL[nameKey, string](cfg.NameTTL),
		ttlcache.WithCapacity[nameKey, string](cfg.NameCacheSize),
	)
	go names.Start()

	return &Service{
		cfg:        cfg,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		signatures: signatures,
		names:      names,
	}, nil
}

// Stop ends background cache maintenance.
func (s *Service) Stop() {
	s.names.Stop()
}

// ForChain returns a decoder resolving contract names on chainID.
func (s *Service) ForChain(chainID uint64) calltrace.Decoder {
	return &chainDecoder{service: s, chainID: chainID}
}

type chainDecoder struct {
	service *Service
	chainID uint64
}

func (d *chainDecoder) ContractName(ctx context.Context, addr common.Address) string {
	return d.service.ContractName(ctx, d.chainID, addr)
}

func (d *chainDecoder) FunctionSignature(ctx context.Context, selector [4]byte) string {
	return d.service.FunctionSignature(ctx, selector)
}

// FunctionSignature returns the text signature for a 4-byte selector.
func (s *Service) FunctionSignature(ctx context.Context, selector [4]byte) string {
	if sig, ok := s.signatures.Get(selector); ok {
		return sig
	}
	key := "sig:" + hexutil.Encode(selector[:])
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.fetchSignature(ctx, selector)
	})
	if err != nil {
		log.Debug("Signature lookup failed", "selector", hexutil.Encode(selector[:]), "err", err)
		return ""
	}
	sig := v.(string)
	s.signatures.Add(selector, sig)
	return sig
}

// ContractName returns the verified name of a contract on chainID.
func (s *Service) ContractName(ctx context.Context, chainID uint64, addr common.Address) string {
	if s.cfg.EtherscanKey == "" {
		return ""
	}
	key := nameKey{chainID: chainID, addr: addr}
	if item := s.names.Get(key); item != nil {
		return item.Value()
	}
	v, err, _ := s.group.Do(fmt.Sprintf("name:%d:%s", chainID, addr.Hex()), func() (interface{}, error) {
		return s.fetchName(ctx, chainID, addr)
	})
	if err != nil {
		log.Debug("Contract name lookup failed", "chain", chainID, "addr", addr, "err", err)
		return ""
	}
	name := v.(string)
	s.names.Set(key, name, ttlcache.DefaultTTL)
	return name
}

func (s *Service) get(ctx context.Context, endpoint string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

type signatureResponse struct {
	Ok     bool `json:"ok"`
	Result struct {
		Function map[string][]struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"result"`
}

func (s *Service) fetchSignature(ctx context.Context, selector [4]byte) (string, error) {
	sel := hexutil.Encode(selector[:])
	q := url.Values{"function": {sel}, "filter": {"true"}}

	var resp signatureResponse
	if err := s.get(ctx, s.cfg.SignatureURL+"?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if !resp.Ok {
		return "", fmt.Errorf("signature database rejected %s", sel)
	}
	if matches := resp.Result.Function[sel]; len(matches) > 0 {
		return matches[0].Name, nil
	}
	return "", nil
}

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (s *Service) fetchName(ctx context.Context, chainID uint64, addr common.Address) (string, error) {
	q := url.Values{
		"chainid": {strconv.FormatUint(chainID, 10)},
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {addr.Hex()},
		"apikey":  {s.cfg.EtherscanKey},
	}
	var resp etherscanResponse
	if err := s.get(ctx, s.cfg.EtherscanURL+"?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if resp.Status != "1" {
		// result carries the error text in this case
		var reason string
		if err := json.Unmarshal(resp.Result, &reason); err != nil {
			return "", fmt.Errorf("etherscan: %s", resp.Message)
		}
		return "", fmt.Errorf("etherscan: %s %s", resp.Message, reason)
	}
	var sources []struct {
		ContractName string `json:"ContractName"`
	}
	if err := json.Unmarshal(resp.Result, &sources); err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return "", nil
	}
	return sources[0].ContractName, nil
}
