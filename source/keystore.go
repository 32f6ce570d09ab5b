package source

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var (
	_ types.Keyring      = (*KeystoreSigner)(nil)
	_ types.UnlockSource = (*KeystoreSigner)(nil)
)

// KeystoreSigner is a software keyring over an on-disk encrypted keystore.
// It doubles as the lock-state source: unlocking decrypts every account,
// locking re-seals them.
type KeystoreSigner struct {
	ks *keystore.KeyStore

	lk       sync.Mutex
	unlocked bool
	changes  chan bool
}

func NewKeystoreSigner(dir string) *KeystoreSigner {
	return &KeystoreSigner{
		ks:      keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP),
		changes: make(chan bool, 8),
	}
}

func (s *KeystoreSigner) Accounts() []common.Address {
	accts := s.ks.Accounts()
	addrs := make([]common.Address, 0, len(accts))
	for _, a := range accts {
		addrs = append(addrs, a.Address)
	}
	return addrs
}

func (s *KeystoreSigner) NewAccount(passphrase string) (common.Address, error) {
	acct, err := s.ks.NewAccount(passphrase)
	if err != nil {
		return common.Address{}, err
	}
	return acct.Address, nil
}

func (s *KeystoreSigner) Unlock(passphrase string) error {
	for _, acct := range s.ks.Accounts() {
		if err := s.ks.Unlock(acct, passphrase); err != nil {
			return errors.Wrapf(err, "unlock %s", acct.Address)
		}
	}
	s.setUnlocked(true)
	return nil
}

func (s *KeystoreSigner) Lock() error {
	for _, acct := range s.ks.Accounts() {
		if err := s.ks.Lock(acct.Address); err != nil {
			return errors.Wrapf(err, "lock %s", acct.Address)
		}
	}
	s.setUnlocked(false)
	return nil
}

func (s *KeystoreSigner) setUnlocked(unlocked bool) {
	s.lk.Lock()
	changed := s.unlocked != unlocked
	s.unlocked = unlocked
	s.lk.Unlock()
	if changed {
		s.changes <- unlocked
	}
}

func (s *KeystoreSigner) IsUnlocked() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.unlocked
}

func (s *KeystoreSigner) Changes() <-chan bool {
	return s.changes
}

func (s *KeystoreSigner) signHash(addr common.Address, hash []byte) ([]byte, error) {
	sig, err := s.ks.SignHash(accounts.Account{Address: addr}, hash)
	if err != nil {
		return nil, err
	}
	// Wire format puts v at 27/28.
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *KeystoreSigner) SignMessage(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	return s.signHash(addr, crypto.Keccak256(data))
}

func (s *KeystoreSigner) SignPersonal(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	return s.signHash(addr, accounts.TextHash(data))
}

func (s *KeystoreSigner) SignTypedData(ctx context.Context, addr common.Address, typedData apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, err
	}
	return s.signHash(addr, hash)
}

// RequiresExternalSign is always false: keystore accounts sign in-process.
func (s *KeystoreSigner) RequiresExternalSign(addr common.Address) bool {
	return false
}

func (s *KeystoreSigner) ExternalSignEvents() <-chan *types.ExternalSignEvent {
	return nil
}
