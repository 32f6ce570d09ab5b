package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var _ types.TokenResolver = (*FileTokenBook)(nil)

// FileTokenBook keeps watched tokens in a JSON file under the repo
// directory, one token list per account.
type FileTokenBook struct {
	lk   sync.Mutex
	path string
	book map[common.Address][]types.Token
}

func NewFileTokenBook(repoPath string) (*FileTokenBook, error) {
	b := &FileTokenBook{
		path: filepath.Join(repoPath, "tokens.json"),
		book: make(map[common.Address][]types.Token),
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, errors.Wrap(err, "read token book")
	}
	if err := json.Unmarshal(data, &b.book); err != nil {
		return nil, errors.Wrap(err, "parse token book")
	}
	return b, nil
}

func (b *FileTokenBook) HasToken(ctx context.Context, account common.Address, token common.Address) (bool, error) {
	b.lk.Lock()
	defer b.lk.Unlock()
	for _, t := range b.book[account] {
		if t.Address == token {
			return true, nil
		}
	}
	return false, nil
}

func (b *FileTokenBook) CommitToken(ctx context.Context, account common.Address, token types.Token) error {
	b.lk.Lock()
	defer b.lk.Unlock()
	for i, t := range b.book[account] {
		if t.Address == token.Address {
			b.book[account][i] = token
			return b.save()
		}
	}
	b.book[account] = append(b.book[account], token)
	return b.save()
}

func (b *FileTokenBook) save() error {
	data, err := json.MarshalIndent(b.book, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode token book")
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		return errors.Wrap(err, "write token book")
	}
	return nil
}
