package types

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func setupLedger(t *testing.T) (*RequestLedger, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRequestLedger(ctx, DefaultConfig()), ctx
}

func submitAsync(ctx context.Context, l *RequestLedger, req *PendingRequest) (<-chan *Decision, <-chan error) {
	decCh := make(chan *Decision, 1)
	errCh := make(chan error, 1)
	go func() {
		decision, err := l.Submit(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		decCh <- decision
	}()
	return decCh, errCh
}

func waitPending(t *testing.T, l *RequestLedger, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		pending, _ := l.PendingCount()
		return pending == n
	}, time.Second, 5*time.Millisecond)
}

func TestConflictingSubmit(t *testing.T) {
	ledger, ctx := setupLedger(t)

	first := NewPendingRequest(RequestSwitchNetwork, &SwitchChainParams{ChainID: 137}, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	decCh, errCh := submitAsync(ctx, ledger, first)
	waitPending(t, ledger, 1)
	before := first.CreateTime

	// a second switch from the same origin must not queue
	second := NewPendingRequest(RequestSwitchNetwork, &SwitchChainParams{ChainID: 1}, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	_, err := ledger.Submit(ctx, second)
	require.True(t, errors.Is(err, ErrResourceUnavailable))

	// the conflicting attempt refreshed the first entry's timestamp
	got, err := ledger.Get(first.ID)
	require.NoError(t, err)
	require.True(t, got.CreateTime.After(before) || got.CreateTime.Equal(before))
	require.False(t, got.CreateTime.Before(before))

	// an add-network request shares the conflict class with switch
	add := NewPendingRequest(RequestAddNetwork, &AddChainParams{}, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	_, err = ledger.Submit(ctx, add)
	require.True(t, errors.Is(err, ErrResourceUnavailable))

	// a different origin is independent
	other := NewPendingRequest(RequestSwitchNetwork, &SwitchChainParams{ChainID: 137}, "https://other.example", NewConnectionID(), SiteMetadata{})
	otherDecCh, _ := submitAsync(ctx, ledger, other)
	waitPending(t, ledger, 2)

	require.NoError(t, ledger.Resolve(first.ID, true, nil))
	decision := <-decCh
	require.True(t, decision.Accepted)
	decision.Complete(nil)

	require.NoError(t, ledger.Resolve(other.ID, false, nil))
	require.False(t, (<-otherDecCh).Accepted)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected submit error %v", err)
	default:
	}
}

func TestWatchAssetConflictPerToken(t *testing.T) {
	ledger, ctx := setupLedger(t)
	origin := "https://dapp.example"
	tokenA := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	tokenB := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	reqA := NewPendingRequest(RequestWatchAsset, &WatchAssetParams{Token: Token{Address: tokenA}}, origin, NewConnectionID(), SiteMetadata{})
	submitAsync(ctx, ledger, reqA)
	waitPending(t, ledger, 1)

	dupA := NewPendingRequest(RequestWatchAsset, &WatchAssetParams{Token: Token{Address: tokenA}}, origin, NewConnectionID(), SiteMetadata{})
	_, err := ledger.Submit(ctx, dupA)
	require.True(t, errors.Is(err, ErrResourceUnavailable))

	// a different token of the same origin is a different conflict key
	reqB := NewPendingRequest(RequestWatchAsset, &WatchAssetParams{Token: Token{Address: tokenB}}, origin, NewConnectionID(), SiteMetadata{})
	submitAsync(ctx, ledger, reqB)
	waitPending(t, ledger, 2)
}

func TestTwoPhaseCompletion(t *testing.T) {
	ledger, ctx := setupLedger(t)

	req := NewPendingRequest(RequestSignMessage, &SignParams{}, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	decCh, _ := submitAsync(ctx, ledger, req)
	waitPending(t, ledger, 1)

	require.NoError(t, ledger.Resolve(req.ID, true, []byte(`{"gasless":true}`)))
	decision := <-decCh
	require.True(t, decision.Accepted)
	require.Equal(t, req.ID, decision.RequestID)
	require.JSONEq(t, `{"gasless":true}`, string(decision.ConfirmOptions))

	// resolving does not remove the entry: the side effect is still running
	got, err := ledger.Get(req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)

	// a second resolve must fail with NotFound
	require.True(t, errors.Is(ledger.Resolve(req.ID, true, nil), ErrNotFound))

	// only the completion callback removes the entry
	decision.Complete(nil)
	_, err = ledger.Get(req.ID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestRejectRemovesImmediately(t *testing.T) {
	ledger, ctx := setupLedger(t)

	req := NewPendingRequest(RequestPermission, nil, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	decCh, _ := submitAsync(ctx, ledger, req)
	waitPending(t, ledger, 1)

	require.NoError(t, ledger.Resolve(req.ID, false, nil))
	decision := <-decCh
	require.False(t, decision.Accepted)

	_, err := ledger.Get(req.ID)
	require.True(t, errors.Is(err, ErrNotFound))
	pending, inflight := ledger.PendingCount()
	require.Zero(t, pending)
	require.Zero(t, inflight)
}

func TestCancelAllPredicate(t *testing.T) {
	ledger, ctx := setupLedger(t)

	sign := NewPendingRequest(RequestSignMessage, &SignParams{}, "https://a.example", NewConnectionID(), SiteMetadata{})
	swtch := NewPendingRequest(RequestSwitchNetwork, &SwitchChainParams{ChainID: 137}, "https://b.example", NewConnectionID(), SiteMetadata{})
	perm := NewPendingRequest(RequestPermission, nil, "https://c.example", NewConnectionID(), SiteMetadata{})

	signCh, _ := submitAsync(ctx, ledger, sign)
	submitAsync(ctx, ledger, swtch)
	permCh, _ := submitAsync(ctx, ledger, perm)
	waitPending(t, ledger, 3)

	// everything except network-switch requests
	n := ledger.CancelAll(func(req *PendingRequest) bool {
		return req.Type != RequestSwitchNetwork && req.Type != RequestAddNetwork
	})
	require.Equal(t, 2, n)

	require.False(t, (<-signCh).Accepted)
	require.False(t, (<-permCh).Accepted)

	pending, _ := ledger.PendingCount()
	require.Equal(t, 1, pending)
	_, err := ledger.Get(swtch.ID)
	require.NoError(t, err)
}

func TestFlagRejectedWhileInFlight(t *testing.T) {
	ledger, ctx := setupLedger(t)

	req := NewPendingRequest(RequestSignMessage, &SignParams{}, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	decCh, _ := submitAsync(ctx, ledger, req)
	waitPending(t, ledger, 1)

	require.NoError(t, ledger.Resolve(req.ID, true, nil))
	decision := <-decCh

	require.False(t, ledger.RejectedExternally(req.ID))
	require.NoError(t, ledger.FlagRejected(req.ID))
	require.True(t, ledger.RejectedExternally(req.ID))

	decision.Complete(ErrUserRejectedRequest)
	_, err := ledger.Get(req.ID)
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.Is(ledger.FlagRejected(req.ID), ErrNotFound))
}

func TestResolveAfterSubmitterGone(t *testing.T) {
	ledger, ctx := setupLedger(t)
	origin := "https://dapp.example"

	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	req := NewPendingRequest(RequestSwitchNetwork, &SwitchChainParams{ChainID: 137}, origin, NewConnectionID(), SiteMetadata{})
	_, errCh := submitAsync(subCtx, ledger, req)
	waitPending(t, ledger, 1)

	subCancel()
	require.True(t, errors.Is(<-errCh, context.Canceled))

	// the entry stays visible until the UI decides it
	got, err := ledger.Get(req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	// accepting now has no submitter left to run the side effect or call
	// the completion callback, so the entry must settle and drop instead
	// of counting as in flight forever
	require.NoError(t, ledger.Resolve(req.ID, true, nil))
	_, err = ledger.Get(req.ID)
	require.True(t, errors.Is(err, ErrNotFound))
	pending, inflight := ledger.PendingCount()
	require.Zero(t, pending)
	require.Zero(t, inflight)

	// and the conflict key is released for a fresh submit
	next := NewPendingRequest(RequestSwitchNetwork, &SwitchChainParams{ChainID: 1}, origin, NewConnectionID(), SiteMetadata{})
	submitAsync(ctx, ledger, next)
	waitPending(t, ledger, 1)
}

func TestStaleSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClearInterval = 10 * time.Millisecond
	cfg.StaleAfter = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := NewRequestLedger(ctx, cfg)

	req := NewPendingRequest(RequestPermission, nil, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	decCh, _ := submitAsync(ctx, ledger, req)
	waitPending(t, ledger, 1)

	decision := <-decCh
	require.False(t, decision.Accepted)
	_, err := ledger.Get(req.ID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestStaleSweepDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClearInterval = 10 * time.Millisecond
	cfg.StaleAfter = 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := NewRequestLedger(ctx, cfg)

	req := NewPendingRequest(RequestPermission, nil, "https://dapp.example", NewConnectionID(), SiteMetadata{})
	submitAsync(ctx, ledger, req)
	waitPending(t, ledger, 1)

	time.Sleep(50 * time.Millisecond)
	pending, _ := ledger.PendingCount()
	require.Equal(t, 1, pending)
}

func TestErrorVocabulary(t *testing.T) {
	detailed := ErrInvalidParams.WithDetail("chainId %q is not hex", "nope")
	require.True(t, errors.Is(detailed, ErrInvalidParams))
	require.Contains(t, detailed.Error(), "chainId")
	require.False(t, errors.Is(detailed, ErrUnauthorized))

	wrapped := errors.Wrap(ErrUserRejectedRequest, "switch chain")
	require.True(t, errors.Is(wrapped, ErrUserRejectedRequest))
}
