package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/ipfs-force-community/sophon-provider/metrics"
	"github.com/ipfs-force-community/sophon-provider/types"
	"github.com/ipfs-force-community/sophon-provider/validator"
)

// eventExternalSign is the UI-side relay event carrying a QR signing
// payload. Pages never see it.
const eventExternalSign = "externalSign"

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// externalSignSession tracks one in-flight QR signing flow for a page
// connection, so relayed device payloads can be matched and a dead
// connection can abort the device wait.
type externalSignSession struct {
	requestID uuid.UUID
	address   common.Address
	started   time.Time
	cancel    context.CancelFunc
}

type sessionSet struct {
	lk       sync.Mutex
	sessions map[types.ConnectionID]*externalSignSession
}

func (s *sessionSet) begin(conn types.ConnectionID, sess *externalSignSession) {
	s.lk.Lock()
	s.sessions[conn] = sess
	s.lk.Unlock()
}

func (s *sessionSet) end(conn types.ConnectionID) {
	s.lk.Lock()
	delete(s.sessions, conn)
	s.lk.Unlock()
}

func (s *sessionSet) hasRequest(id uuid.UUID) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, sess := range s.sessions {
		if sess.requestID == id {
			return true
		}
	}
	return false
}

// cancelConnection aborts the QR wait of a disconnected page.
func (s *sessionSet) cancelConnection(conn types.ConnectionID) {
	s.lk.Lock()
	sess, ok := s.sessions[conn]
	delete(s.sessions, conn)
	s.lk.Unlock()
	if ok && sess.cancel != nil {
		sess.cancel()
	}
}

// relayExternalSignEvent forwards a QR payload to the confirmation UI.
// Payloads for requests that already finished are dropped.
func (m *Mediator) relayExternalSignEvent(ev *types.ExternalSignEvent) {
	if !m.extSessions.hasRequest(ev.RequestID) {
		log.Debugw("dropping stale external sign payload", "request", ev.RequestID)
		return
	}
	m.deps.Registry.Broadcast(types.ConnUI, &types.Notification{
		Event:   eventExternalSign,
		Payload: mustJSON(ev),
	})
}

// handleSign serves every signing method. The positional parameter shapes
// differ per method; normalization folds them into one {address, data}
// request before the ledger is touched, so malformed calls never raise a
// prompt.
func (m *Mediator) handleSign(ctx context.Context, c *call) (interface{}, error) {
	params, err := validator.NormalizeSignParams(c.method, c.params)
	if err != nil {
		return nil, err
	}
	if !m.isAuthorized(c.inst.Origin, params.Address) {
		return nil, types.ErrUnauthorized
	}
	m.noteRequestSource(c.inst)

	typ := types.RequestSignMessage
	switch params.Kind {
	case types.SignKindTypedDataV1, types.SignKindTypedDataV3, types.SignKindTypedDataV4:
		typ = types.RequestSignTypedData
	}
	req := types.NewPendingRequest(typ, params, c.inst.Origin, c.conn, c.inst.Site)
	stats.Record(ctx, metrics.RequestSubmitted.M(1))

	decision, err := m.deps.Ledger.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		stats.Record(ctx, metrics.RequestRejected.M(1))
		return nil, types.ErrUserRejectedRequest
	}

	sig, err := m.performSign(ctx, req.ID, c.conn, params)
	decision.Complete(err)
	if err != nil {
		return nil, err
	}
	return hexutil.Encode(sig), nil
}

// performSign drives an approved signing request to completion. The
// keyring call runs aside while three exits are raced: the signature, the
// sign timeout, and a poll for the UI rejecting the request mid-flight.
// Timeout behavior is deterministic: the deadline wins even when the
// signature lands in the same scheduling instant.
func (m *Mediator) performSign(ctx context.Context, id uuid.UUID, conn types.ConnectionID, params *types.SignParams) ([]byte, error) {
	signCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m.deps.Keyring.RequiresExternalSign(params.Address) {
		m.extSessions.begin(conn, &externalSignSession{
			requestID: id,
			address:   params.Address,
			started:   time.Now(),
			cancel:    cancel,
		})
		defer m.extSessions.end(conn)
	}

	start := time.Now()
	type signResult struct {
		sig []byte
		err error
	}
	resultCh := make(chan signResult, 1)
	go func() {
		sig, err := m.callKeyring(signCtx, params)
		resultCh <- signResult{sig: sig, err: err}
	}()

	timer := time.NewTimer(m.cfg.SignTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(m.cfg.RejectPollInterval)
	defer ticker.Stop()

	defer func() {
		mctx, _ := tag.New(ctx, tag.Upsert(metrics.KindKey, params.Kind.String()))
		stats.Record(mctx, metrics.WalletSign.M(metrics.SinceInMilliseconds(start)))
	}()

	for {
		select {
		case <-timer.C:
			cancel()
			log.Warnw("sign request timed out", "request", id, "kind", params.Kind.String())
			return nil, types.ErrSignTimeout
		case <-ticker.C:
			if m.deps.Ledger.RejectedExternally(id) {
				cancel()
				return nil, types.ErrUserRejectedRequest
			}
		case res := <-resultCh:
			if res.err != nil {
				return nil, parseSignError(res.err)
			}
			return res.sig, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Mediator) callKeyring(ctx context.Context, params *types.SignParams) ([]byte, error) {
	switch params.Kind {
	case types.SignKindRaw, types.SignKindTypedDataV1:
		// Legacy V1 payloads stay raw; the keyring owns their hashing.
		return m.deps.Keyring.SignMessage(ctx, params.Address, params.Data)
	case types.SignKindPersonal:
		return m.deps.Keyring.SignPersonal(ctx, params.Address, params.Data)
	default:
		return m.deps.Keyring.SignTypedData(ctx, params.Address, params.TypedData)
	}
}

// parseSignError maps keyring vendor errors onto the provider error
// vocabulary. Hardware wallets report user refusal as plain text, so this
// falls back to substring matching.
func parseSignError(err error) *types.Error {
	var perr *types.Error
	if errors.As(err, &perr) {
		return perr
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied"), strings.Contains(msg, "rejected"), strings.Contains(msg, "cancel"):
		return types.ErrUserRejectedRequest
	case strings.Contains(msg, "locked"):
		return types.ErrUnauthorized
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return types.ErrSignTimeout
	default:
		return types.ErrInternal.WithDetail("%v", err)
	}
}
