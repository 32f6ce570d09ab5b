package subscription

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var log = logging.Logger("subscription")

type Kind int

const (
	KindNewHeads Kind = iota
	KindLogs
)

func ParseKind(s string) (Kind, error) {
	switch s {
	case "newHeads":
		return KindNewHeads, nil
	case "logs":
		return KindLogs, nil
	default:
		return 0, types.ErrUnsupportedSubscriptionType.WithDetail("%q", s)
	}
}

// LogFilter is the eth_subscribe("logs") filter object.
type LogFilter struct {
	Address []common.Address `json:"address,omitempty"`
	Topics  [][]common.Hash  `json:"topics,omitempty"`
}

// Subscription maps one subscription id to its notification target. The
// chain id is pinned at creation: deliveries stop the moment the active
// chain differs.
type Subscription struct {
	ID         string
	Connection types.ConnectionID
	Kind       Kind
	Filter     LogFilter
	ChainID    uint64
}

// NotifyFunc delivers one eth_subscription payload to a connection.
type NotifyFunc func(conn types.ConnectionID, subscriptionID string, result json.RawMessage)

// Registry tracks subscriptions and fans block ticks out to them.
// Single-writer: only the mediator mutates it.
type Registry struct {
	lk       sync.Mutex
	subs     map[string]*Subscription
	cfg      *types.RequestConfig
	networks types.NetworkSource
	notify   NotifyFunc

	// deliveredUpTo and lastDelivery implement the per-network rate limit:
	// skipped ticks leave deliveredUpTo behind so the next delivery
	// batches the whole gap.
	deliveredUpTo map[uint64]uint64
	lastDelivery  map[uint64]time.Time
}

func NewRegistry(cfg *types.RequestConfig, networks types.NetworkSource, notify NotifyFunc) *Registry {
	return &Registry{
		subs:          make(map[string]*Subscription),
		cfg:           cfg,
		networks:      networks,
		notify:        notify,
		deliveredUpTo: make(map[uint64]uint64),
		lastDelivery:  make(map[uint64]time.Time),
	}
}

func newSubscriptionID() string {
	var buf [16]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		panic(err)
	}
	return hexutil.Encode(buf[:])
}

func (r *Registry) Subscribe(conn types.ConnectionID, kind Kind, filter LogFilter) string {
	sub := &Subscription{
		ID:         newSubscriptionID(),
		Connection: conn,
		Kind:       kind,
		Filter:     filter,
		ChainID:    r.networks.ChainID(),
	}
	r.lk.Lock()
	r.subs[sub.ID] = sub
	r.lk.Unlock()
	log.Debugw("subscribe", "id", sub.ID, "conn", conn, "chain", sub.ChainID)
	return sub.ID
}

// Unsubscribe removes id if conn owns it, reporting whether it existed.
func (r *Registry) Unsubscribe(conn types.ConnectionID, id string) bool {
	r.lk.Lock()
	defer r.lk.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.Connection != conn {
		return false
	}
	delete(r.subs, id)
	return true
}

// DropConnection removes every subscription of a disconnected port.
func (r *Registry) DropConnection(conn types.ConnectionID) {
	r.lk.Lock()
	defer r.lk.Unlock()
	for id, sub := range r.subs {
		if sub.Connection == conn {
			delete(r.subs, id)
		}
	}
}

// DropAll clears the registry. Called on network change: subscriptions of
// the prior chain do not carry over.
func (r *Registry) DropAll() {
	r.lk.Lock()
	defer r.lk.Unlock()
	if len(r.subs) > 0 {
		log.Infof("dropping %d subscriptions on chain change", len(r.subs))
	}
	r.subs = make(map[string]*Subscription)
}

func (r *Registry) Count() int {
	r.lk.Lock()
	defer r.lk.Unlock()
	return len(r.subs)
}

// OnTick delivers one block-tick observation. Ticks for a chain other than
// the active one are skipped entirely even if the block range is non-empty;
// deliveries are rate-limited per network, batching every block between the
// last delivered and the current head into sequential per-block callbacks.
func (r *Registry) OnTick(ctx context.Context, tick types.BlockTick) {
	if tick.ChainID != r.networks.ChainID() {
		return
	}

	r.lk.Lock()
	last := r.lastDelivery[tick.ChainID]
	if time.Since(last) < r.cfg.BlockNotifyInterval && !last.IsZero() {
		r.lk.Unlock()
		return
	}
	start := tick.Prev
	if delivered, ok := r.deliveredUpTo[tick.ChainID]; ok {
		// resume from the last delivered block so rate-limited ticks are
		// batched later instead of lost
		start = delivered
	}
	r.lastDelivery[tick.ChainID] = time.Now()
	r.deliveredUpTo[tick.ChainID] = tick.Curr
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.ChainID == tick.ChainID {
			subs = append(subs, sub)
		}
	}
	r.lk.Unlock()

	if len(subs) == 0 || tick.Curr <= start {
		return
	}

	handle, err := r.networks.RPCHandle(tick.ChainID)
	if err != nil {
		log.Warnf("no rpc handle for chain %d: %v", tick.ChainID, err)
		return
	}

	for block := start + 1; block <= tick.Curr; block++ {
		// the chain may change while a batch is being delivered
		if tick.ChainID != r.networks.ChainID() {
			return
		}
		r.deliverBlock(ctx, handle, subs, block)
	}
}

func (r *Registry) deliverBlock(ctx context.Context, handle types.RPCHandle, subs []*Subscription, block uint64) {
	var header json.RawMessage
	for _, sub := range subs {
		switch sub.Kind {
		case KindNewHeads:
			if header == nil {
				if err := handle.CallContext(ctx, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(block), false); err != nil {
					log.Warnf("fetch header %d: %v", block, err)
					return
				}
			}
			r.notify(sub.Connection, sub.ID, header)
		case KindLogs:
			logs, err := r.fetchLogs(ctx, handle, sub.Filter, block)
			if err != nil {
				log.Warnf("fetch logs %d: %v", block, err)
				continue
			}
			for _, entry := range logs {
				r.notify(sub.Connection, sub.ID, entry)
			}
		}
	}
}

func (r *Registry) fetchLogs(ctx context.Context, handle types.RPCHandle, filter LogFilter, block uint64) ([]json.RawMessage, error) {
	arg := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(block),
		"toBlock":   hexutil.EncodeUint64(block),
	}
	if len(filter.Address) > 0 {
		arg["address"] = filter.Address
	}
	if len(filter.Topics) > 0 {
		arg["topics"] = filter.Topics
	}
	var logs []json.RawMessage
	if err := handle.CallContext(ctx, &logs, "eth_getLogs", arg); err != nil {
		return nil, err
	}
	return logs, nil
}
