package testhelper

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var _ types.Keyring = (*MemKeyring)(nil)

// MemKeyring is an in-memory software keyring producing real secp256k1
// signatures. Tests flip fail, block and external per scenario.
type MemKeyring struct {
	lk       sync.Mutex
	keys     map[common.Address]*ecdsa.PrivateKey
	external map[common.Address]bool
	fail     bool
	block    chan struct{}
	events   chan *types.ExternalSignEvent
}

func NewMemKeyring() *MemKeyring {
	return &MemKeyring{
		keys:     make(map[common.Address]*ecdsa.PrivateKey),
		external: make(map[common.Address]bool),
		events:   make(chan *types.ExternalSignEvent, 8),
	}
}

func (m *MemKeyring) AddKey() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	m.lk.Lock()
	m.keys[addr] = key
	m.lk.Unlock()
	return addr, nil
}

func (m *MemKeyring) SetFail(fail bool) {
	m.lk.Lock()
	m.fail = fail
	m.lk.Unlock()
}

// SetBlocking makes every signing call park until the returned release
// function runs, for timeout and mid-flight rejection scenarios.
func (m *MemKeyring) SetBlocking() (release func()) {
	ch := make(chan struct{})
	m.lk.Lock()
	m.block = ch
	m.lk.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (m *MemKeyring) SetExternal(addr common.Address, external bool) {
	m.lk.Lock()
	m.external[addr] = external
	m.lk.Unlock()
}

// EmitExternalEvent feeds a fake QR payload into the relay channel.
func (m *MemKeyring) EmitExternalEvent(ev *types.ExternalSignEvent) {
	m.events <- ev
}

func (m *MemKeyring) key(addr common.Address) (*ecdsa.PrivateKey, chan struct{}, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	key, ok := m.keys[addr]
	if !ok {
		return nil, nil, fmt.Errorf("key not found for %s", addr)
	}
	if m.fail {
		return nil, nil, fmt.Errorf("mock error")
	}
	return key, m.block, nil
}

func (m *MemKeyring) sign(ctx context.Context, addr common.Address, hash []byte) ([]byte, error) {
	key, block, err := m.key(addr)
	if err != nil {
		return nil, err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	// Wire format puts v at 27/28.
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (m *MemKeyring) SignMessage(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	return m.sign(ctx, addr, crypto.Keccak256(data))
}

func (m *MemKeyring) SignPersonal(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	return m.sign(ctx, addr, accounts.TextHash(data))
}

func (m *MemKeyring) SignTypedData(ctx context.Context, addr common.Address, typedData apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, err
	}
	return m.sign(ctx, addr, hash)
}

func (m *MemKeyring) RequiresExternalSign(addr common.Address) bool {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.external[addr]
}

func (m *MemKeyring) ExternalSignEvents() <-chan *types.ExternalSignEvent {
	return m.events
}
