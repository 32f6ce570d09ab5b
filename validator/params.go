// Package validator normalizes and validates the parameters of the EIP
// surfaces before any ledger entry is created. Validation failures are
// synchronous and never silently defaulted.
package validator

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ipfs-force-community/sophon-provider/types"
)

// ValidateAddress parses a 0x-hex address. Mixed-case input must carry a
// valid EIP-55 checksum.
func ValidateAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, types.ErrInvalidParams.WithDetail("%q is not a hex address", s)
	}
	addr := common.HexToAddress(s)
	stripped := strings.TrimPrefix(s, "0x")
	if stripped != strings.ToLower(stripped) && stripped != strings.ToUpper(stripped) {
		if s != addr.Hex() {
			return common.Address{}, types.ErrInvalidParams.WithDetail("%q fails the address checksum", s)
		}
	}
	return addr, nil
}

// ParseChainID parses an EIP-155 chain id in 0x-hex quantity form.
func ParseChainID(s string) (uint64, error) {
	id, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, types.ErrInvalidParams.WithDetail("chainId %q is not a hex quantity", s)
	}
	return id, nil
}

func requireHTTPS(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return types.ErrInvalidParams.WithDetail("%q is not an https url", rawURL)
	}
	return nil
}

// ValidateAddChainParams checks an EIP-3085 parameter object: https-only
// URLs, a chain name, and an 18-decimal native currency.
func ValidateAddChainParams(params *types.AddChainParams) (uint64, error) {
	chainID, err := ParseChainID(params.ChainID)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(params.ChainName) == "" {
		return 0, types.ErrInvalidParams.WithDetail("chainName is required")
	}
	if len(params.RPCURLs) == 0 {
		return 0, types.ErrInvalidParams.WithDetail("at least one rpc url is required")
	}
	for _, u := range params.RPCURLs {
		if err := requireHTTPS(u); err != nil {
			return 0, err
		}
	}
	for _, u := range params.BlockExplorerURLs {
		if err := requireHTTPS(u); err != nil {
			return 0, err
		}
	}
	if params.NativeCurrency.Decimals != 18 {
		return 0, types.ErrInvalidParams.WithDetail("nativeCurrency.decimals must be 18, got %d", params.NativeCurrency.Decimals)
	}
	if strings.TrimSpace(params.NativeCurrency.Symbol) == "" {
		return 0, types.ErrInvalidParams.WithDetail("nativeCurrency.symbol is required")
	}
	return chainID, nil
}

// watchAssetRequest is the EIP-747 wire shape.
type watchAssetRequest struct {
	Type    string `json:"type"`
	Options struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals uint   `json:"decimals"`
		Image    string `json:"image"`
	} `json:"options"`
}

// ValidateWatchAssetParams checks a wallet_watchAsset request. Only the
// ERC20 fungible standard is supported.
func ValidateWatchAssetParams(raw json.RawMessage) (*types.WatchAssetParams, error) {
	var req watchAssetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("malformed watchAsset params: %v", err)
	}
	if req.Type != "ERC20" {
		return nil, types.ErrInvalidParams.WithDetail("asset type %q is not supported", req.Type)
	}
	addr, err := ValidateAddress(req.Options.Address)
	if err != nil {
		return nil, err
	}
	symbol := strings.TrimSpace(req.Options.Symbol)
	if len(symbol) < 2 || len(symbol) > 11 {
		return nil, types.ErrInvalidParams.WithDetail("symbol must be 2-11 characters, got %q", req.Options.Symbol)
	}
	if req.Options.Decimals > 36 {
		return nil, types.ErrInvalidParams.WithDetail("decimals must not exceed 36, got %d", req.Options.Decimals)
	}
	return &types.WatchAssetParams{
		Token: types.Token{
			Address:  addr,
			Symbol:   symbol,
			Decimals: uint8(req.Options.Decimals),
			Image:    req.Options.Image,
		},
	}, nil
}
