package source

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var _ types.BlockTickSource = (*BlockTicker)(nil)

// BlockTicker polls the active chain's head height and emits a tick for
// every observed advance. Subscription fan-out applies its own per-chain
// rate limiting downstream.
type BlockTicker struct {
	networks types.NetworkSource
	interval time.Duration
	ticks    chan types.BlockTick
}

func NewBlockTicker(networks types.NetworkSource, interval time.Duration) *BlockTicker {
	return &BlockTicker{
		networks: networks,
		interval: interval,
		ticks:    make(chan types.BlockTick, 16),
	}
}

func (t *BlockTicker) Ticks() <-chan types.BlockTick {
	return t.ticks
}

// Run polls until ctx is cancelled. Poll failures are logged and retried
// on the next interval; a chain switch resets the observed height.
func (t *BlockTicker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var lastChain, lastHeight uint64
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		chainID := t.networks.ChainID()
		height, err := t.poll(ctx, chainID)
		if err != nil {
			log.Debugf("poll head of chain %d: %v", chainID, err)
			continue
		}
		if chainID != lastChain {
			lastChain, lastHeight = chainID, height
			continue
		}
		if height <= lastHeight {
			continue
		}
		tick := types.BlockTick{ChainID: chainID, Prev: lastHeight, Curr: height}
		lastHeight = height
		select {
		case t.ticks <- tick:
		default:
			log.Warnf("block tick dropped, consumer lagging")
		}
	}
}

func (t *BlockTicker) poll(ctx context.Context, chainID uint64) (uint64, error) {
	handle, err := t.networks.RPCHandle(chainID)
	if err != nil {
		return 0, err
	}
	callCtx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()
	var height hexutil.Uint64
	if err := handle.CallContext(callCtx, &height, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(height), nil
}
