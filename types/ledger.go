package types

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("request_ledger")

// LedgerChange is emitted on every mutation of the ledger. Pending counts
// only entries still awaiting a decision; InFlight counts approved entries
// whose side effect has not completed yet.
type LedgerChange struct {
	Pending  int
	InFlight int
	// Touched is set when a conflicting submit refreshed an existing
	// entry, so the UI can refocus it.
	Touched uuid.UUID
	// LastOrigin is the origin behind the change, used for tab refocus.
	LastOrigin   string
	LastTabID    int64
	LastWindowID int64
}

// RequestLedger is the at-most-one-per-conflict-key registry of outstanding
// asynchronous requests. Submit suspends the caller until the UI resolves
// the entry; completion of the caller's own side effect is a second,
// separate signal and is the sole deletion trigger for accepted entries.
type RequestLedger struct {
	reqLk      sync.RWMutex
	requests   map[uuid.UUID]*PendingRequest
	byConflict map[string]uuid.UUID
	cfg        *RequestConfig
	feed       event.Feed
}

func NewRequestLedger(ctx context.Context, cfg *RequestConfig) *RequestLedger {
	l := &RequestLedger{
		requests:   make(map[uuid.UUID]*PendingRequest),
		byConflict: make(map[string]uuid.UUID),
		cfg:        cfg,
	}
	go l.cleanStale(ctx)
	return l
}

// SubscribeChanges registers a sink for ledger mutations. The window/focus
// watcher drives window state off this feed.
func (l *RequestLedger) SubscribeChanges(ch chan<- LedgerChange) event.Subscription {
	return l.feed.Subscribe(ch)
}

// Submit inserts req and suspends until the UI decides it. If a PENDING
// entry with the same conflict key exists, that entry's timestamp is
// refreshed (to refocus the confirmation UI) and Submit fails with
// ErrResourceUnavailable instead of queuing a second prompt.
func (l *RequestLedger) Submit(ctx context.Context, req *PendingRequest) (*Decision, error) {
	l.reqLk.Lock()
	if key, ok := req.ConflictKey(); ok {
		if existingID, ok := l.byConflict[key]; ok {
			existing := l.requests[existingID]
			existing.CreateTime = time.Now()
			change := l.changeLocked()
			change.Touched = existingID
			l.reqLk.Unlock()
			l.feed.Send(change)
			log.Infow("conflicting request refused", "origin", req.Origin, "type", req.Type.String(), "refocus", existingID)
			return nil, ErrResourceUnavailable
		}
		l.byConflict[key] = req.ID
	}
	l.requests[req.ID] = req
	change := l.changeLocked()
	change.LastOrigin = req.Origin
	l.reqLk.Unlock()
	l.feed.Send(change)
	log.Infow("request submitted", "id", req.ID, "origin", req.Origin, "type", req.Type.String())

	select {
	case decision := <-req.decision:
		return decision, nil
	case <-ctx.Done():
		l.reqLk.Lock()
		if req.Status == StatusPending {
			// Still undecided. The entry survives the submitter so the UI
			// can keep showing it, but a late resolve must settle it in
			// place now that nobody will run the side effect.
			req.abandoned = true
			l.reqLk.Unlock()
			return nil, ctx.Err()
		}
		l.reqLk.Unlock()
		// A decision is already on its way. Drain and fail it so an
		// accepted entry does not count as in flight forever.
		decision := <-req.decision
		decision.Complete(ctx.Err())
		return nil, ctx.Err()
	}
}

// Resolve delivers the UI decision for id. It unblocks the submitter but
// does not remove an accepted entry; removal waits for the submitter's
// completion callback. A second Resolve on the same id fails with
// ErrNotFound.
func (l *RequestLedger) Resolve(id uuid.UUID, accepted bool, confirmOptions []byte) error {
	l.reqLk.Lock()
	req, ok := l.requests[id]
	if !ok || req.Status != StatusPending {
		l.reqLk.Unlock()
		return ErrNotFound
	}
	if req.abandoned {
		// The submitter gave up before the decision came, so there is no
		// one to run an accepted side effect or to complete the entry.
		req.Status = StatusRejected
		req.Err = ErrUserRejectedRequest
		l.removeLocked(req)
		change := l.changeLocked()
		l.reqLk.Unlock()
		l.feed.Send(change)
		log.Infow("request resolved after submitter gone", "id", id, "accepted", accepted)
		return nil
	}

	decision := &Decision{
		Accepted:       accepted,
		RequestID:      id,
		ConfirmOptions: confirmOptions,
	}
	if accepted {
		req.Status = StatusApproved
		req.ConfirmData = confirmOptions
		decision.Complete = l.completeFunc(req)
		// The conflict rule guards PENDING prompts only; an approved entry
		// being processed no longer blocks a fresh submit.
		if key, ok := req.ConflictKey(); ok {
			if id, exists := l.byConflict[key]; exists && id == req.ID {
				delete(l.byConflict, key)
			}
		}
	} else {
		req.Status = StatusRejected
		req.Err = ErrUserRejectedRequest
		l.removeLocked(req)
		decision.Complete = func(error) {}
	}
	change := l.changeLocked()
	l.reqLk.Unlock()
	l.feed.Send(change)

	req.decision <- decision
	log.Infow("request resolved", "id", id, "accepted", accepted)
	return nil
}

// completeFunc builds the second-phase completion callback for an approved
// entry. Invoking it records the terminal status and removes the entry,
// regardless of outcome.
func (l *RequestLedger) completeFunc(req *PendingRequest) func(err error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			l.reqLk.Lock()
			switch {
			case err == nil:
				if req.Type == RequestSignMessage || req.Type == RequestSignTypedData {
					req.Status = StatusSigned
				}
			case ErrUserRejectedRequest.Is(err):
				req.Status = StatusRejected
				req.Err = ErrUserRejectedRequest
			default:
				req.Status = StatusFailed
				if perr, ok := err.(*Error); ok {
					req.Err = perr
				} else {
					req.Err = ErrInternal.WithDetail("%v", err)
				}
			}
			l.removeLocked(req)
			change := l.changeLocked()
			l.reqLk.Unlock()
			l.feed.Send(change)
			log.Debugw("request completed", "id", req.ID, "status", req.Status.String())
		})
	}
}

// FlagRejected marks a request rejected after approval, while its signing
// operation is already in flight. The signing poll loop observes the flag.
func (l *RequestLedger) FlagRejected(id uuid.UUID) error {
	l.reqLk.Lock()
	defer l.reqLk.Unlock()
	req, ok := l.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.rejectedFlag = true
	return nil
}

// RejectedExternally reports whether id was flagged rejected out-of-band.
func (l *RequestLedger) RejectedExternally(id uuid.UUID) bool {
	l.reqLk.RLock()
	defer l.reqLk.RUnlock()
	req, ok := l.requests[id]
	return ok && req.rejectedFlag
}

// Get returns a copy of the entry, or ErrNotFound.
func (l *RequestLedger) Get(id uuid.UUID) (PendingRequest, error) {
	l.reqLk.RLock()
	defer l.reqLk.RUnlock()
	req, ok := l.requests[id]
	if !ok {
		return PendingRequest{}, ErrNotFound
	}
	return *req, nil
}

// Pending returns a snapshot of all PENDING entries.
func (l *RequestLedger) Pending() []PendingRequest {
	l.reqLk.RLock()
	defer l.reqLk.RUnlock()
	out := make([]PendingRequest, 0, len(l.requests))
	for _, req := range l.requests {
		if req.Status == StatusPending {
			out = append(out, *req)
		}
	}
	return out
}

// PendingCount returns (pending, in-flight) sizes.
func (l *RequestLedger) PendingCount() (int, int) {
	l.reqLk.RLock()
	defer l.reqLk.RUnlock()
	return l.countLocked()
}

// CancelAll rejects every PENDING entry matching pred with
// ErrUserRejectedRequest and removes it. Used on lock, on explicit
// "reject all" and on chain-switch invalidation, each with its own
// predicate.
func (l *RequestLedger) CancelAll(pred func(*PendingRequest) bool) int {
	l.reqLk.Lock()
	var cancelled []*PendingRequest
	for _, req := range l.requests {
		if req.Status != StatusPending {
			continue
		}
		if pred != nil && !pred(req) {
			continue
		}
		req.Status = StatusRejected
		req.Err = ErrUserRejectedRequest
		l.removeLocked(req)
		cancelled = append(cancelled, req)
	}
	change := l.changeLocked()
	l.reqLk.Unlock()

	for _, req := range cancelled {
		req.decision <- &Decision{
			Accepted:  false,
			RequestID: req.ID,
			Complete:  func(error) {},
		}
	}
	if len(cancelled) > 0 {
		l.feed.Send(change)
		log.Infof("cancelled %d pending requests", len(cancelled))
	}
	return len(cancelled)
}

func (l *RequestLedger) cleanStale(ctx context.Context) {
	if l.cfg.ClearInterval <= 0 || l.cfg.StaleAfter <= 0 {
		return
	}
	tm := time.NewTicker(l.cfg.ClearInterval)
	defer tm.Stop()
	for {
		select {
		case <-tm.C:
			l.CancelAll(func(req *PendingRequest) bool {
				if time.Since(req.CreateTime) > l.cfg.StaleAfter {
					log.Warnw("sweeping stale request", "id", req.ID, "type", req.Type.String(), "age", time.Since(req.CreateTime))
					return true
				}
				return false
			})
		case <-ctx.Done():
			return
		}
	}
}

// removeLocked drops req from both indexes. Callers hold reqLk.
func (l *RequestLedger) removeLocked(req *PendingRequest) {
	delete(l.requests, req.ID)
	if key, ok := req.ConflictKey(); ok {
		if id, exists := l.byConflict[key]; exists && id == req.ID {
			delete(l.byConflict, key)
		}
	}
}

func (l *RequestLedger) countLocked() (int, int) {
	pending, inflight := 0, 0
	for _, req := range l.requests {
		switch req.Status {
		case StatusPending:
			pending++
		case StatusApproved:
			inflight++
		}
	}
	return pending, inflight
}

func (l *RequestLedger) changeLocked() LedgerChange {
	pending, inflight := l.countLocked()
	return LedgerChange{Pending: pending, InFlight: inflight}
}
