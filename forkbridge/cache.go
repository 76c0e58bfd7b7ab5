package forkbridge

import (
	"encoding/binary"
	"math/big"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// remoteAccount is an account as fetched from the remote ledger.
type remoteAccount struct {
	Balance *big.Int
	Nonce   uint64
	Code    []byte
}

func (a *remoteAccount) empty() bool {
	return a.Balance.Sign() == 0 && a.Nonce == 0 && len(a.Code) == 0
}

// remoteCache memoizes remote reads across contexts. Entries are keyed by
// endpoint and block so they never go stale.
type remoteCache struct {
	cache *fastcache.Cache
}

func newRemoteCache(size int) *remoteCache {
	if size <= 0 {
		return nil
	}
	return &remoteCache{cache: fastcache.New(size)}
}

// cacheScope derives the key prefix shared by all reads of one endpoint at one
// block.
func cacheScope(endpoint string, block uint64) []byte {
	prefix := make([]byte, 16)
	copy(prefix, crypto.Keccak256([]byte(endpoint))[:8])
	binary.BigEndian.PutUint64(prefix[8:], block)
	return prefix
}

func accountKey(scope []byte, addr common.Address) []byte {
	return append(append(make([]byte, 0, len(scope)+common.AddressLength), scope...), addr.Bytes()...)
}

func slotKey(scope []byte, addr common.Address, slot common.Hash) []byte {
	return append(accountKey(scope, addr), slot.Bytes()...)
}

func (c *remoteCache) account(scope []byte, addr common.Address) (*remoteAccount, bool) {
	if c == nil {
		return nil, false
	}
	enc := c.cache.GetBig(nil, accountKey(scope, addr))
	if len(enc) == 0 {
		cacheMissCounter.Inc(1)
		return nil, false
	}
	acc := new(remoteAccount)
	if err := rlp.DecodeBytes(enc, acc); err != nil {
		log.Warn("Dropping undecodable cached account", "addr", addr, "err", err)
		return nil, false
	}
	if acc.Balance == nil {
		acc.Balance = new(big.Int)
	}
	cacheHitCounter.Inc(1)
	return acc, true
}

func (c *remoteCache) setAccount(scope []byte, addr common.Address, acc *remoteAccount) {
	if c == nil {
		return
	}
	enc, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return
	}
	c.cache.SetBig(accountKey(scope, addr), enc)
}

func (c *remoteCache) slot(scope []byte, addr common.Address, slot common.Hash) (common.Hash, bool) {
	if c == nil {
		return common.Hash{}, false
	}
	v, ok := c.cache.HasGet(nil, slotKey(scope, addr, slot))
	if !ok {
		cacheMissCounter.Inc(1)
		return common.Hash{}, false
	}
	cacheHitCounter.Inc(1)
	return common.BytesToHash(v), true
}

func (c *remoteCache) setSlot(scope []byte, addr common.Address, slot, value common.Hash) {
	if c == nil {
		return
	}
	c.cache.Set(slotKey(scope, addr, slot), value.Bytes())
}
