package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tychoscope/internal/model"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// failureTTL is how long a failed lookup is remembered before the token is queried again.
const failureTTL = 5 * time.Minute

// TokenMetaResolver fetches token metadata on first use and caches it. A failure is
// remembered for failureTTL so a broken token is not queried on every report; a
// lookup cut short by its context is not remembered at all.
type TokenMetaResolver struct {
	caller ContractCaller
	cache  *TokenMetaCache
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	failed map[common.Address]time.Time
}

func NewTokenMetaResolver(caller ContractCaller, logger *zap.Logger) *TokenMetaResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenMetaResolver{
		caller: caller,
		cache:  NewTokenMetaCache(),
		logger: logger,
		now:    time.Now,
		failed: make(map[common.Address]time.Time),
	}
}

// Lookup returns metadata for a token address, or false when it is unknown.
func (r *TokenMetaResolver) Lookup(ctx context.Context, token string) (model.TokenMeta, bool) {
	if r == nil || !common.IsHexAddress(token) {
		return model.TokenMeta{}, false
	}
	addr := common.HexToAddress(token)
	if meta, ok := r.cache.Get(addr); ok {
		return meta, true
	}

	r.mu.Lock()
	failedAt, failed := r.failed[addr]
	if failed && r.now().Sub(failedAt) >= failureTTL {
		delete(r.failed, addr)
		failed = false
	}
	r.mu.Unlock()
	if failed {
		return model.TokenMeta{}, false
	}

	meta, err := FetchTokenMeta(ctx, r.caller, addr, r.logger)
	if err != nil {
		if ctx.Err() != nil {
			return model.TokenMeta{}, false
		}
		r.logger.Warn("token metadata fetch failed", zap.String("token", token), zap.Error(err))
		r.mu.Lock()
		r.failed[addr] = r.now()
		r.mu.Unlock()
		return model.TokenMeta{}, false
	}
	r.cache.Set(addr, meta)
	return meta, true
}

// FetchTokenMeta loads token metadata via ERC20 calls.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	call := func(method string, parsed abi.ABI) ([]interface{}, error) {
		data, err := parsed.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		msg := ethereum.CallMsg{To: &token, Data: data}
		resp, err := caller.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := parsed.Unpack(method, resp)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%s returned no values", method)
		}
		return values, nil
	}

	values, err := call("decimals", stringABI)
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("unsupported decimals type %T", values[0])
	}
	meta.Decimals = decimals

	if values, err := call("symbol", stringABI); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := call("symbol", bytes32ABI); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else if logger != nil {
		logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	return meta, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}
