package mediator

import (
	"context"
	"encoding/json"
	"strconv"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/ipfs-force-community/sophon-provider/chainlist"
	"github.com/ipfs-force-community/sophon-provider/metrics"
	"github.com/ipfs-force-community/sophon-provider/types"
	"github.com/ipfs-force-community/sophon-provider/validator"
)

// walletAddEthereumChain implements EIP-3085. The declared chain id is
// verified twice before any prompt exists: against the offline chain list
// and against what the candidate endpoint itself reports. Either mismatch
// fails the call outright.
func (m *Mediator) walletAddEthereumChain(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	var params types.AddChainParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("malformed chain parameters: %v", err)
	}
	chainID, err := validator.ValidateAddChainParams(&params)
	if err != nil {
		return nil, err
	}
	if known, ok := chainlist.Lookup(chainID); ok {
		if params.NativeCurrency.Symbol != known.Symbol || params.NativeCurrency.Decimals != known.Decimals {
			return nil, types.ErrInvalidParams.WithDetail(
				"native currency does not match chain %d (%s, %d decimals)", chainID, known.Symbol, known.Decimals)
		}
	}

	// Already enabled: adding degrades to switching, per EIP-3085.
	if m.deps.Networks.KnownChain(chainID) {
		return m.switchToChain(ctx, c, chainID)
	}

	probed, err := m.deps.Networks.ProbeChainID(ctx, params.RPCURLs[0])
	if err != nil {
		return nil, types.ErrInvalidParams.WithDetail("rpc endpoint unreachable: %v", err)
	}
	if probed != chainID {
		return nil, types.ErrInvalidParams.WithDetail(
			"endpoint reports chain id %d, parameters declare %d", probed, chainID)
	}

	m.noteRequestSource(c.inst)
	req := types.NewPendingRequest(types.RequestAddNetwork, &params, c.inst.Origin, c.conn, c.inst.Site)
	stats.Record(ctx, metrics.RequestSubmitted.M(1))
	decision, err := m.deps.Ledger.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		stats.Record(ctx, metrics.RequestRejected.M(1))
		return nil, types.ErrUserRejectedRequest
	}
	err = m.deps.Networks.CommitChain(ctx, &params)
	decision.Complete(err)
	if err != nil {
		return nil, types.ErrInternal.WithDetail("commit chain: %v", err)
	}
	log.Infow("chain added", "chain", chainID, "origin", c.inst.Origin)

	// One user approval covers add plus the implied switch.
	if err := m.applySwitch(ctx, chainID); err != nil {
		return nil, err
	}
	return nil, nil
}

// walletSwitchEthereumChain implements EIP-3326. Switching to the active
// chain is a silent success; switching to a chain the wallet never added
// fails with the unrecognized-chain code.
func (m *Mediator) walletSwitchEthereumChain(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	var params struct {
		ChainID string `json:"chainId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("malformed switch parameters: %v", err)
	}
	chainID, err := validator.ParseChainID(params.ChainID)
	if err != nil {
		return nil, err
	}
	return m.switchToChain(ctx, c, chainID)
}

func (m *Mediator) switchToChain(ctx context.Context, c *call, chainID uint64) (interface{}, error) {
	if chainID == m.deps.Networks.ChainID() {
		return nil, nil
	}
	if !m.deps.Networks.KnownChain(chainID) {
		return nil, types.ErrUnknownChain.WithDetail("%d", chainID)
	}

	m.noteRequestSource(c.inst)
	req := types.NewPendingRequest(types.RequestSwitchNetwork, &types.SwitchChainParams{ChainID: chainID}, c.inst.Origin, c.conn, c.inst.Site)
	stats.Record(ctx, metrics.RequestSubmitted.M(1))
	decision, err := m.deps.Ledger.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		stats.Record(ctx, metrics.RequestRejected.M(1))
		return nil, types.ErrUserRejectedRequest
	}
	err = m.applySwitch(ctx, chainID)
	decision.Complete(err)
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// applySwitch flips the active chain and invalidates the pending requests
// whose parameters were computed under the old one. Switch requests
// themselves survive the sweep.
func (m *Mediator) applySwitch(ctx context.Context, chainID uint64) error {
	if err := m.deps.Networks.SwitchChain(ctx, chainID); err != nil {
		return types.ErrInternal.WithDetail("switch chain: %v", err)
	}
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(metrics.ChainKey, strconv.FormatUint(chainID, 10))},
		metrics.NetworkSwitched.M(1))
	n := m.deps.Ledger.CancelAll(m.cancelOnSwitch)
	if n > 0 {
		log.Infow("invalidated pending requests on switch", "chain", chainID, "cancelled", n)
	}
	return nil
}
