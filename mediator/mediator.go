package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/ipfs-force-community/sophon-provider/metrics"
	"github.com/ipfs-force-community/sophon-provider/permission"
	"github.com/ipfs-force-community/sophon-provider/registry"
	"github.com/ipfs-force-community/sophon-provider/subscription"
	"github.com/ipfs-force-community/sophon-provider/types"
)

var log = logging.Logger("provider_mediator")

// methodHandler implements one provider method. Dispatch is a pure function
// of (method, params, connection) to a result.
type methodHandler func(ctx context.Context, call *call) (interface{}, error)

type call struct {
	conn   types.ConnectionID
	inst   *types.ProviderInstance
	method string
	params []json.RawMessage
}

// param returns the i-th positional parameter or an InvalidParams error.
func (c *call) param(i int) (json.RawMessage, error) {
	if i >= len(c.params) {
		return nil, types.ErrInvalidParams.WithDetail("%s expects at least %d parameters", c.method, i+1)
	}
	return c.params[i], nil
}

// Deps are the collaborators consumed by the mediator. Everything behind
// them (storage, transport, key custody, UI) is external to this core.
type Deps struct {
	Registry    registry.IRegistry
	Permissions permission.IPermissionStore
	Ledger      *types.RequestLedger
	Networks    types.NetworkSource
	Keyring     types.Keyring
	TxSender    types.TransactionSender
	Gas         types.GasEstimator
	Tokens      types.TokenResolver
	Unlock      types.UnlockSource
	Ticks       types.BlockTickSource
	Window      types.WindowOpener
}

// Mediator is the provider protocol dispatcher: it validates and
// normalizes raw provider calls, converts stateful calls into
// user-confirmable pending requests and routes protocol events back to
// subscribed pages.
type Mediator struct {
	cfg  *types.RequestConfig
	deps Deps
	subs *subscription.Registry

	handlers    map[string]methodHandler
	passthrough map[string]struct{}

	unlockWaiters waiterList
	extSessions   sessionSet

	// cancelOnSwitch and cancelOnLock are two independently configurable
	// invalidation predicates; they happen to share a default but are not
	// required to agree.
	cancelOnSwitch func(*types.PendingRequest) bool
	cancelOnLock   func(*types.PendingRequest) bool

	watcher *windowWatcher
}

// notSwitchNetwork is the default predicate for both mass-cancellation
// paths: everything except an in-flight chain switch.
func notSwitchNetwork(req *types.PendingRequest) bool {
	return req.Type != types.RequestSwitchNetwork && req.Type != types.RequestAddNetwork
}

func NewMediator(ctx context.Context, cfg *types.RequestConfig, deps Deps) *Mediator {
	m := &Mediator{
		cfg:            cfg,
		deps:           deps,
		cancelOnSwitch: notSwitchNetwork,
		cancelOnLock:   notSwitchNetwork,
	}
	m.subs = subscription.NewRegistry(cfg, deps.Networks, func(conn types.ConnectionID, subID string, result json.RawMessage) {
		deps.Registry.Notify(conn, types.MessageNotification(subID, result))
	})
	m.extSessions.sessions = make(map[types.ConnectionID]*externalSignSession)
	m.handlers = m.newHandlers()
	m.passthrough = newPassthroughSet()

	deps.Registry.OnUnregister(m.subs.DropConnection)
	deps.Registry.OnUnregister(m.extSessions.cancelConnection)
	deps.Permissions.OnAccountsChanged(func(origin string, accounts []common.Address) {
		deps.Registry.BroadcastOrigin(origin, types.AccountsChangedNotification(accounts))
	})

	m.watcher = newWindowWatcher(cfg, deps.Window, deps.Ledger)
	go m.watcher.run(ctx)
	go m.run(ctx)
	return m
}

// Dispatch handles one provider call from a connected page.
func (m *Mediator) Dispatch(ctx context.Context, conn types.ConnectionID, method string, params []json.RawMessage) (interface{}, error) {
	inst, err := m.deps.Registry.Get(conn)
	if err != nil {
		return nil, types.ErrDisconnected
	}

	start := time.Now()
	ctx = types.CtxWithOrigin(types.CtxWithConnection(ctx, conn), inst.Origin)
	mctx, _ := tag.New(ctx, tag.Upsert(metrics.MethodKey, method), tag.Upsert(metrics.OriginKey, inst.Origin))
	defer func() {
		stats.Record(mctx, metrics.ProviderCall.M(metrics.SinceInMilliseconds(start)))
	}()

	c := &call{conn: conn, inst: inst, method: method, params: params}
	if handler, ok := m.handlers[method]; ok {
		result, err := handler(ctx, c)
		if err != nil {
			if errors.Is(err, types.ErrResourceUnavailable) {
				stats.Record(mctx, metrics.RequestConflicted.M(1))
			}
			log.Debugw("method failed", "method", method, "origin", inst.Origin, "err", err)
		}
		return result, err
	}
	if _, ok := m.passthrough[method]; ok {
		return m.forward(ctx, c)
	}
	return nil, types.ErrUnsupportedMethod.WithDetail("%s", method)
}

// forward relays an allow-listed read method verbatim to the active
// chain's RPC transport.
func (m *Mediator) forward(ctx context.Context, c *call) (interface{}, error) {
	handle, err := m.deps.Networks.RPCHandle(m.deps.Networks.ChainID())
	if err != nil {
		return nil, types.ErrChainDisconnected
	}
	args := make([]interface{}, len(c.params))
	for i, p := range c.params {
		args[i] = p
	}
	var result json.RawMessage
	if err := handle.CallContext(ctx, &result, c.method, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// run is the event loop reacting to the external collaborators: network
// switches, lock-state transitions, block ticks and QR sign relays.
func (m *Mediator) run(ctx context.Context) {
	var extEvents <-chan *types.ExternalSignEvent
	if m.deps.Keyring != nil {
		extEvents = m.deps.Keyring.ExternalSignEvents()
	}
	var unlockChanges <-chan bool
	if m.deps.Unlock != nil {
		unlockChanges = m.deps.Unlock.Changes()
	}
	var ticks <-chan types.BlockTick
	if m.deps.Ticks != nil {
		ticks = m.deps.Ticks.Ticks()
	}

	for {
		select {
		case chainID, ok := <-m.deps.Networks.ChainChanged():
			if !ok {
				return
			}
			m.onChainChanged(chainID)
		case unlocked, ok := <-unlockChanges:
			if !ok {
				unlockChanges = nil
				continue
			}
			m.onUnlockChanged(unlocked)
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			m.subs.OnTick(ctx, tick)
		case ev, ok := <-extEvents:
			if !ok {
				extEvents = nil
				continue
			}
			m.relayExternalSignEvent(ev)
		case <-ctx.Done():
			return
		}
	}
}

// onChainChanged drops the previous chain's subscriptions and fans the
// chainChanged event out to every page.
func (m *Mediator) onChainChanged(chainID uint64) {
	m.subs.DropAll()
	n := types.ChainChangedNotification(chainID, m.deps.Networks.NetworkVersion())
	m.deps.Registry.Broadcast(types.ConnPage, n)
	log.Infow("chain changed", "chain", chainID)
}

func (m *Mediator) onUnlockChanged(unlocked bool) {
	if unlocked {
		m.unlockWaiters.flush(nil)
		// closing right after password entry, without the grace delay,
		// avoids window flicker
		m.watcher.closeNow()
		return
	}
	n := m.deps.Ledger.CancelAll(m.cancelOnLock)
	log.Infow("wallet locked", "cancelled", n)
}

// RejectUnconfirmed is the explicit "reject all unconfirmed requests"
// action of the UI.
func (m *Mediator) RejectUnconfirmed(ctx context.Context) int {
	m.unlockWaiters.flush(types.ErrUserRejectedRequest)
	return m.deps.Ledger.CancelAll(nil)
}

// SubscriptionCount exposes the subscription gauge for metrics sampling.
func (m *Mediator) SubscriptionCount() int {
	return m.subs.Count()
}
