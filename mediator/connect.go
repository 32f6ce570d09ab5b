package mediator

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs-force-community/sophon-provider/types"
)

// waiterList queues callers blocked on the wallet unlocking. FIFO so the
// confirmation prompts appear in arrival order once the user enters the
// password.
type waiterList struct {
	lk      sync.Mutex
	waiters []chan error
}

func (w *waiterList) add() <-chan error {
	ch := make(chan error, 1)
	w.lk.Lock()
	w.waiters = append(w.waiters, ch)
	w.lk.Unlock()
	return ch
}

// flush releases every waiter in arrival order. err is nil on unlock and
// UserRejected when the UI dismisses the whole queue.
func (w *waiterList) flush(err error) {
	w.lk.Lock()
	waiters := w.waiters
	w.waiters = nil
	w.lk.Unlock()
	for _, ch := range waiters {
		ch <- err
	}
}

// awaitUnlock gates a connection attempt on the lock state: the unlock
// prompt is raised and the caller parks until the user enters the
// password, dismisses the prompt, or the sign timeout elapses.
func (m *Mediator) awaitUnlock(ctx context.Context) error {
	if m.deps.Unlock == nil || m.deps.Unlock.IsUnlocked() {
		return nil
	}
	ch := m.unlockWaiters.add()
	if m.deps.Window != nil {
		if err := m.deps.Window.EnsureOpen(ctx); err != nil {
			log.Warnf("open unlock prompt: %v", err)
		}
	}
	timer := time.NewTimer(m.cfg.SignTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return types.ErrUserRejectedRequest
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mediator) ethRequestAccounts(ctx context.Context, c *call) (interface{}, error) {
	if err := m.awaitUnlock(ctx); err != nil {
		return nil, err
	}
	m.noteRequestSource(c.inst)
	return m.deps.Permissions.ConnectionRequest(ctx, c.conn)
}

// permissionDescriptor is the EIP-2255 wire shape of one granted
// permission.
type permissionDescriptor struct {
	ParentCapability string             `json:"parentCapability"`
	Invoker          string             `json:"invoker"`
	Date             int64              `json:"date"`
	Caveats          []permissionCaveat `json:"caveats"`
}

type permissionCaveat struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

func (m *Mediator) walletRequestPermissions(ctx context.Context, c *call) (interface{}, error) {
	if err := m.awaitUnlock(ctx); err != nil {
		return nil, err
	}
	m.noteRequestSource(c.inst)
	if _, err := m.deps.Permissions.ConnectionRequest(ctx, c.conn); err != nil {
		return nil, err
	}
	return m.describePermissions(c.inst.Origin), nil
}

func (m *Mediator) walletGetPermissions(ctx context.Context, c *call) (interface{}, error) {
	return m.describePermissions(c.inst.Origin), nil
}

func (m *Mediator) describePermissions(origin string) []permissionDescriptor {
	accounts := m.deps.Permissions.GetAccounts(origin)
	if len(accounts) == 0 {
		return []permissionDescriptor{}
	}
	return []permissionDescriptor{{
		ParentCapability: "eth_accounts",
		Invoker:          origin,
		Date:             time.Now().UnixMilli(),
		Caveats: []permissionCaveat{{
			Type:  "restrictReturnedAccounts",
			Value: accounts,
		}},
	}}
}
