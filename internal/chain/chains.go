package chain

import (
	"fmt"
	"strings"
)

// Chain is a network the feed can be subscribed to.
type Chain string

const (
	Ethereum Chain = "ethereum"
	Base     Chain = "base"
	Unichain Chain = "unichain"
	Arbitrum Chain = "arbitrum"
	ZkSync   Chain = "zksync"
)

var chainIDs = map[Chain]uint64{
	Ethereum: 1,
	Base:     8453,
	Unichain: 130,
	Arbitrum: 42161,
	ZkSync:   324,
}

// ParseChain resolves a chain selector case-insensitively.
func ParseChain(name string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := chainIDs[c]; !ok {
		return "", fmt.Errorf("unsupported chain: %s", name)
	}
	return c, nil
}

// ID returns the EVM chain id.
func (c Chain) ID() uint64 {
	return chainIDs[c]
}

func (c Chain) String() string {
	return string(c)
}
