package mediator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-provider/types"
)

// windowWatcher drives the confirmation popup off the ledger change feed:
// it opens the window when a prompt appears, refocuses it when a
// conflicting submit refreshes an entry, and closes it once nothing is
// pending or in flight. Closing waits out a short grace delay so
// back-to-back requests reuse the window instead of flickering it.
type windowWatcher struct {
	cfg    *types.RequestConfig
	opener types.WindowOpener
	ledger *types.RequestLedger

	closeCh chan struct{}

	lk           sync.Mutex
	lastTabID    int64
	lastWindowID int64
}

func newWindowWatcher(cfg *types.RequestConfig, opener types.WindowOpener, ledger *types.RequestLedger) *windowWatcher {
	return &windowWatcher{
		cfg:     cfg,
		opener:  opener,
		ledger:  ledger,
		closeCh: make(chan struct{}, 1),
	}
}

// noteSource remembers the page tab behind the most recent user-facing
// request; focus returns there after the window closes.
func (w *windowWatcher) noteSource(tabID, windowID int64) {
	w.lk.Lock()
	w.lastTabID = tabID
	w.lastWindowID = windowID
	w.lk.Unlock()
}

// closeNow skips the grace delay, e.g. right after an unlock where keeping
// the window up would only flicker.
func (w *windowWatcher) closeNow() {
	select {
	case w.closeCh <- struct{}{}:
	default:
	}
}

func (w *windowWatcher) run(ctx context.Context) {
	if w.opener == nil {
		return
	}
	changes := make(chan types.LedgerChange, 16)
	sub := w.ledger.SubscribeChanges(changes)
	defer sub.Unsubscribe()

	var graceTimer *time.Timer
	var graceC <-chan time.Time
	stopGrace := func() {
		if graceTimer != nil {
			graceTimer.Stop()
			graceTimer = nil
			graceC = nil
		}
	}

	open := false
	for {
		select {
		case change := <-changes:
			if change.Pending+change.InFlight > 0 {
				stopGrace()
				if err := w.opener.EnsureOpen(ctx); err != nil {
					log.Warnf("open confirmation window: %v", err)
					continue
				}
				if change.Touched != uuid.Nil {
					// Conflicting submit: the existing prompt gets focus
					// instead of a second window.
					log.Debugw("refocusing existing prompt", "request", change.Touched)
				}
				open = true
				continue
			}
			if open && graceTimer == nil {
				graceTimer = time.NewTimer(w.cfg.WindowGraceDelay)
				graceC = graceTimer.C
			}
		case <-graceC:
			graceTimer = nil
			graceC = nil
			if pending, inFlight := w.ledger.PendingCount(); pending+inFlight > 0 {
				continue
			}
			w.close(ctx)
			open = false
		case <-w.closeCh:
			// The unlock prompt is opened outside this loop, so close
			// unconditionally.
			stopGrace()
			w.close(ctx)
			open = false
		case <-ctx.Done():
			stopGrace()
			return
		}
	}
}

// close dismisses the window and hands focus back to the requesting tab.
func (w *windowWatcher) close(ctx context.Context) {
	if err := w.opener.CloseAll(ctx); err != nil {
		log.Warnf("close confirmation window: %v", err)
		return
	}
	w.lk.Lock()
	tabID, windowID := w.lastTabID, w.lastWindowID
	w.lk.Unlock()
	if tabID != 0 {
		if err := w.opener.FocusTab(ctx, tabID, windowID); err != nil {
			log.Debugf("refocus source tab: %v", err)
		}
	}
}
