// Package chainlist is the authoritative offline registry of known EVM
// chains, used to cross-check wallet_addEthereumChain candidates.
package chainlist

import (
	"strconv"
)

type Chain struct {
	ID       uint64
	Name     string
	Symbol   string
	Decimals uint
}

// NetworkVersion is the decimal net_version string of the chain.
func (c Chain) NetworkVersion() string {
	return NetworkVersion(c.ID)
}

// NetworkVersion is the decimal net_version string of an arbitrary chain
// id, listed or not.
func NetworkVersion(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

var chains = map[uint64]Chain{
	1:        {ID: 1, Name: "Ethereum Mainnet", Symbol: "ETH", Decimals: 18},
	10:       {ID: 10, Name: "OP Mainnet", Symbol: "ETH", Decimals: 18},
	56:       {ID: 56, Name: "BNB Smart Chain", Symbol: "BNB", Decimals: 18},
	100:      {ID: 100, Name: "Gnosis", Symbol: "xDAI", Decimals: 18},
	137:      {ID: 137, Name: "Polygon Mainnet", Symbol: "POL", Decimals: 18},
	250:      {ID: 250, Name: "Fantom Opera", Symbol: "FTM", Decimals: 18},
	324:      {ID: 324, Name: "zkSync Era", Symbol: "ETH", Decimals: 18},
	8453:     {ID: 8453, Name: "Base", Symbol: "ETH", Decimals: 18},
	42161:    {ID: 42161, Name: "Arbitrum One", Symbol: "ETH", Decimals: 18},
	42220:    {ID: 42220, Name: "Celo", Symbol: "CELO", Decimals: 18},
	43114:    {ID: 43114, Name: "Avalanche C-Chain", Symbol: "AVAX", Decimals: 18},
	59144:    {ID: 59144, Name: "Linea", Symbol: "ETH", Decimals: 18},
	534352:   {ID: 534352, Name: "Scroll", Symbol: "ETH", Decimals: 18},
	11155111: {ID: 11155111, Name: "Sepolia", Symbol: "ETH", Decimals: 18},
}

func Lookup(chainID uint64) (Chain, bool) {
	c, ok := chains[chainID]
	return c, ok
}
