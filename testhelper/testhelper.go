package testhelper

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ipfs-force-community/sophon-provider/types"
)

// RPCFunc adapts a function to the chain RPC handle.
type RPCFunc func(ctx context.Context, result interface{}, method string, args ...interface{}) error

func (f RPCFunc) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return f(ctx, result, method, args...)
}

var _ types.NetworkSource = (*MemNetwork)(nil)

// MemNetwork is an in-memory network state with a scriptable RPC handle
// and probe answer.
type MemNetwork struct {
	lk      sync.Mutex
	active  uint64
	known   map[uint64]bool
	handle  types.RPCHandle
	probed  uint64
	changed chan uint64

	CommitErr error
	SwitchErr error
}

func NewMemNetwork(active uint64) *MemNetwork {
	return &MemNetwork{
		active:  active,
		known:   map[uint64]bool{active: true},
		changed: make(chan uint64, 8),
	}
}

func (m *MemNetwork) SetHandle(handle types.RPCHandle) {
	m.lk.Lock()
	m.handle = handle
	m.lk.Unlock()
}

func (m *MemNetwork) SetProbed(chainID uint64) {
	m.lk.Lock()
	m.probed = chainID
	m.lk.Unlock()
}

func (m *MemNetwork) AddKnown(chainID uint64) {
	m.lk.Lock()
	m.known[chainID] = true
	m.lk.Unlock()
}

func (m *MemNetwork) ChainID() uint64 {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.active
}

func (m *MemNetwork) NetworkVersion() string {
	return fmt.Sprintf("%d", m.ChainID())
}

func (m *MemNetwork) KnownChain(chainID uint64) bool {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.known[chainID]
}

func (m *MemNetwork) RPCHandle(chainID uint64) (types.RPCHandle, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.handle == nil {
		return nil, fmt.Errorf("no handle for chain %d", chainID)
	}
	return m.handle, nil
}

func (m *MemNetwork) ProbeChainID(ctx context.Context, rpcURL string) (uint64, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.probed == 0 {
		return 0, fmt.Errorf("endpoint unreachable")
	}
	return m.probed, nil
}

func (m *MemNetwork) CommitChain(ctx context.Context, params *types.AddChainParams) error {
	if m.CommitErr != nil {
		return m.CommitErr
	}
	chainID, err := parseHexUint(params.ChainID)
	if err != nil {
		return err
	}
	m.AddKnown(chainID)
	return nil
}

func (m *MemNetwork) SwitchChain(ctx context.Context, chainID uint64) error {
	if m.SwitchErr != nil {
		return m.SwitchErr
	}
	m.lk.Lock()
	if !m.known[chainID] {
		m.lk.Unlock()
		return fmt.Errorf("chain %d not enabled", chainID)
	}
	m.active = chainID
	m.lk.Unlock()
	m.changed <- chainID
	return nil
}

func (m *MemNetwork) ChainChanged() <-chan uint64 {
	return m.changed
}

func parseHexUint(s string) (uint64, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil {
		return 0, fmt.Errorf("malformed chain id %q", s)
	}
	return v, nil
}

var _ types.UnlockSource = (*MemUnlock)(nil)

// MemUnlock is a scriptable lock state.
type MemUnlock struct {
	lk       sync.Mutex
	unlocked bool
	changes  chan bool
}

func NewMemUnlock(unlocked bool) *MemUnlock {
	return &MemUnlock{unlocked: unlocked, changes: make(chan bool, 8)}
}

func (m *MemUnlock) IsUnlocked() bool {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.unlocked
}

func (m *MemUnlock) SetUnlocked(unlocked bool) {
	m.lk.Lock()
	m.unlocked = unlocked
	m.lk.Unlock()
	m.changes <- unlocked
}

func (m *MemUnlock) Changes() <-chan bool {
	return m.changes
}

var _ types.TokenResolver = (*MemTokens)(nil)

// MemTokens is an in-memory per-account token book.
type MemTokens struct {
	lk     sync.Mutex
	tokens map[common.Address]map[common.Address]types.Token
}

func NewMemTokens() *MemTokens {
	return &MemTokens{tokens: make(map[common.Address]map[common.Address]types.Token)}
}

func (m *MemTokens) HasToken(ctx context.Context, account common.Address, token common.Address) (bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	_, ok := m.tokens[account][token]
	return ok, nil
}

func (m *MemTokens) CommitToken(ctx context.Context, account common.Address, token types.Token) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.tokens[account] == nil {
		m.tokens[account] = make(map[common.Address]types.Token)
	}
	m.tokens[account][token.Address] = token
	return nil
}

var _ types.TransactionSender = (*MemTxSender)(nil)

// MemTxSender records submitted transactions and answers a fixed hash.
type MemTxSender struct {
	lk   sync.Mutex
	Sent []*apitypes.SendTxArgs
	Hash common.Hash
	Err  error
}

func (m *MemTxSender) SendTransaction(ctx context.Context, origin string, conn types.ConnectionID, tx *apitypes.SendTxArgs) (common.Hash, error) {
	if m.Err != nil {
		return common.Hash{}, m.Err
	}
	m.lk.Lock()
	m.Sent = append(m.Sent, tx)
	m.lk.Unlock()
	return m.Hash, nil
}

var _ types.WindowOpener = (*StubWindow)(nil)

// StubWindow counts window operations.
type StubWindow struct {
	lk      sync.Mutex
	Opens   int
	Closes  int
	Focuses int
}

func (s *StubWindow) EnsureOpen(ctx context.Context) error {
	s.lk.Lock()
	s.Opens++
	s.lk.Unlock()
	return nil
}

func (s *StubWindow) CloseAll(ctx context.Context) error {
	s.lk.Lock()
	s.Closes++
	s.lk.Unlock()
	return nil
}

func (s *StubWindow) FocusTab(ctx context.Context, tabID int64, windowID int64) error {
	s.lk.Lock()
	s.Focuses++
	s.lk.Unlock()
	return nil
}

func (s *StubWindow) Counts() (opens, closes, focuses int) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.Opens, s.Closes, s.Focuses
}

var _ types.BlockTickSource = (*MemTicker)(nil)

// MemTicker hand-feeds block ticks.
type MemTicker struct {
	ticks chan types.BlockTick
}

func NewMemTicker() *MemTicker {
	return &MemTicker{ticks: make(chan types.BlockTick, 8)}
}

func (m *MemTicker) Push(tick types.BlockTick) {
	m.ticks <- tick
}

func (m *MemTicker) Ticks() <-chan types.BlockTick {
	return m.ticks
}
