package registry

import (
	"context"
	"net/url"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/ipfs-force-community/sophon-provider/metrics"
	"github.com/ipfs-force-community/sophon-provider/types"
)

var log = logging.Logger("instance_registry")

// IRegistry tracks open connections: extension UI instances and per-page
// provider instances, each bound to an opaque port.
type IRegistry interface {
	Register(kind types.ConnectionKind, info types.PortInfo) (*types.ProviderInstance, error)
	Unregister(id types.ConnectionID) error
	Get(id types.ConnectionID) (*types.ProviderInstance, error)
	List() []*types.ProviderInstance
	ByOrigin(origin string) []*types.ProviderInstance
	Notify(id types.ConnectionID, n *types.Notification)
	Broadcast(kind types.ConnectionKind, n *types.Notification)
	BroadcastOrigin(origin string, n *types.Notification)
	OnUnregister(fn func(id types.ConnectionID))
}

var _ IRegistry = (*Registry)(nil)

type Registry struct {
	lk           sync.Mutex
	instances    map[types.ConnectionID]*types.ProviderInstance
	cfg          *types.RequestConfig
	onUnregister []func(types.ConnectionID)
}

func NewRegistry(cfg *types.RequestConfig) *Registry {
	return &Registry{
		instances: make(map[types.ConnectionID]*types.ProviderInstance),
		cfg:       cfg,
	}
}

// Register creates an instance for a new port. Page ports must carry a
// valid page URL and non-negative tab/window ids. Registering a UI port
// closes every other non-onboarding UI port: one active UI window.
func (r *Registry) Register(kind types.ConnectionKind, info types.PortInfo) (*types.ProviderInstance, error) {
	if kind == types.ConnPage {
		if err := validatePagePort(info); err != nil {
			return nil, err
		}
	}

	r.lk.Lock()
	var displaced []*types.ProviderInstance
	if kind == types.ConnUI {
		for id, inst := range r.instances {
			if inst.Kind == types.ConnUI {
				displaced = append(displaced, inst)
				delete(r.instances, id)
			}
		}
	}
	inst := types.NewProviderInstance(kind, info, r.cfg.NotificationQueueSize)
	r.instances[inst.ID] = inst
	r.lk.Unlock()

	for _, old := range displaced {
		close(old.Outbound)
		recordConnectionEvent(metrics.ConnectionUnregister, old.Kind)
		log.Infow("displaced UI instance", "id", old.ID)
	}
	recordConnectionEvent(metrics.ConnectionRegister, kind)
	log.Infow("register connection", "id", inst.ID, "kind", kind.String(), "origin", inst.Origin)
	return inst, nil
}

func recordConnectionEvent(m *stats.Int64Measure, kind types.ConnectionKind) {
	_ = stats.RecordWithTags(context.Background(),
		[]tag.Mutator{tag.Upsert(metrics.KindKey, kind.String())}, m.M(1))
}

func validatePagePort(info types.PortInfo) error {
	if info.TabID < 0 || info.WindowID < 0 {
		return types.ErrInvalidOrigin.WithDetail("missing tab or window id")
	}
	u, err := url.Parse(info.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return types.ErrInvalidOrigin.WithDetail("malformed page url %q", info.URL)
	}
	if info.Origin == "" {
		return types.ErrInvalidOrigin.WithDetail("empty origin")
	}
	return nil
}

func (r *Registry) Unregister(id types.ConnectionID) error {
	r.lk.Lock()
	inst, ok := r.instances[id]
	if ok {
		delete(r.instances, id)
	}
	r.lk.Unlock()
	if !ok {
		return types.ErrNotFound
	}
	close(inst.Outbound)
	for _, fn := range r.onUnregister {
		fn(id)
	}
	recordConnectionEvent(metrics.ConnectionUnregister, inst.Kind)
	log.Infow("unregister connection", "id", id, "origin", inst.Origin)
	return nil
}

// OnUnregister hooks disconnect cleanup, e.g. dropping the connection's
// subscriptions. Pending ledger entries deliberately survive disconnects.
func (r *Registry) OnUnregister(fn func(id types.ConnectionID)) {
	r.onUnregister = append(r.onUnregister, fn)
}

func (r *Registry) Get(id types.ConnectionID) (*types.ProviderInstance, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return inst, nil
}

func (r *Registry) List() []*types.ProviderInstance {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]*types.ProviderInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

func (r *Registry) ByOrigin(origin string) []*types.ProviderInstance {
	r.lk.Lock()
	defer r.lk.Unlock()
	var out []*types.ProviderInstance
	for _, inst := range r.instances {
		if inst.Kind == types.ConnPage && inst.Origin == origin {
			out = append(out, inst)
		}
	}
	return out
}

// Notify pushes one event to one connection. A full outbound buffer drops
// the event rather than blocking the mediator.
func (r *Registry) Notify(id types.ConnectionID, n *types.Notification) {
	r.lk.Lock()
	inst, ok := r.instances[id]
	r.lk.Unlock()
	if !ok {
		return
	}
	send(inst, n)
}

func (r *Registry) Broadcast(kind types.ConnectionKind, n *types.Notification) {
	for _, inst := range r.List() {
		if inst.Kind == kind {
			send(inst, n)
		}
	}
}

func (r *Registry) BroadcastOrigin(origin string, n *types.Notification) {
	for _, inst := range r.ByOrigin(origin) {
		send(inst, n)
	}
}

func send(inst *types.ProviderInstance, n *types.Notification) {
	defer func() {
		// the outbound channel closes on unregister; losing that race is
		// the same as the page having gone away
		_ = recover()
	}()
	select {
	case inst.Outbound <- n:
	default:
		log.Warnw("outbound queue full, dropping event", "id", inst.ID, "event", n.Event)
	}
}
