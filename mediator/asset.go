package mediator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.opencensus.io/stats"

	"github.com/ipfs-force-community/sophon-provider/metrics"
	"github.com/ipfs-force-community/sophon-provider/types"
	"github.com/ipfs-force-community/sophon-provider/validator"
)

// walletWatchAsset implements EIP-747 for ERC-20 tokens. A token the
// active account already watches still raises a prompt, flagged so the UI
// renders it as an update rather than an addition.
func (m *Mediator) walletWatchAsset(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	params, err := validator.ValidateWatchAssetParams(raw)
	if err != nil {
		return nil, err
	}

	account, ok := m.activeAccount(c.inst.Origin)
	if !ok {
		return nil, types.ErrUnauthorized
	}
	watched, err := m.deps.Tokens.HasToken(ctx, account, params.Token.Address)
	if err != nil {
		return nil, types.ErrInternal.WithDetail("token lookup: %v", err)
	}
	params.AlreadyWatched = watched

	m.noteRequestSource(c.inst)
	req := types.NewPendingRequest(types.RequestWatchAsset, params, c.inst.Origin, c.conn, c.inst.Site)
	stats.Record(ctx, metrics.RequestSubmitted.M(1))
	decision, err := m.deps.Ledger.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		stats.Record(ctx, metrics.RequestRejected.M(1))
		return nil, types.ErrUserRejectedRequest
	}
	err = m.deps.Tokens.CommitToken(ctx, account, params.Token)
	decision.Complete(err)
	if err != nil {
		return nil, types.ErrInternal.WithDetail("commit token: %v", err)
	}
	log.Infow("token watched", "token", params.Token.Address, "account", account, "update", watched)
	return true, nil
}

// activeAccount is the origin's active granted account, when any.
func (m *Mediator) activeAccount(origin string) (addr common.Address, ok bool) {
	granted := m.deps.Permissions.GetAccounts(origin)
	if len(granted) == 0 {
		return common.Address{}, false
	}
	return granted[0], true
}
