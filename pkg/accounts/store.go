// Package accounts persists account metadata, in particular whether an
// account is watch-only. It never holds key material.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/adamantine-wallet/gate/pkg/canonicalize"
	"github.com/adamantine-wallet/gate/pkg/store"
)

// ErrAccountNotFound is returned when no state is stored for an account.
var ErrAccountNotFound = errors.New("accounts: account not found")

const namespace = store.Namespace("ACCOUNT")

// State is the persisted account record.
type State struct {
	WalletID  string `json:"wallet_id"`
	AccountID string `json:"account_id"`
	Index     uint32 `json:"index"`
	WatchOnly bool   `json:"watch_only"`
	Label     string `json:"label,omitempty"`
}

// Store keeps account State in a store.KV.
type Store struct {
	kv store.KV
}

// NewStore wraps kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// walletPrefix length-prefixes walletID so no (wallet, account) pair can
// share a key with another.
func walletPrefix(walletID string) string {
	return namespace.Key(strconv.Itoa(len(walletID)) + ":" + walletID + ":")
}

func key(walletID, accountID string) string {
	return walletPrefix(walletID) + accountID
}

// normalizeIDs applies the same normalization the gate applies to intents,
// so a stored account is reachable by the IDs a normalized intent carries.
func normalizeIDs(walletID, accountID string) (string, string) {
	return canonicalize.NormalizeString(walletID), canonicalize.NormalizeString(accountID)
}

func encode(st State) (string, []byte, error) {
	st.WalletID, st.AccountID = normalizeIDs(st.WalletID, st.AccountID)
	if st.WalletID == "" || st.AccountID == "" {
		return "", nil, fmt.Errorf("accounts: wallet_id and account_id are required")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return "", nil, fmt.Errorf("accounts: encode: %w", err)
	}
	return key(st.WalletID, st.AccountID), raw, nil
}

// Save writes st under its normalized IDs.
func (s *Store) Save(ctx context.Context, st State) error {
	k, raw, err := encode(st)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, k, raw)
}

// SaveAll writes every state in one atomic batch.
func (s *Store) SaveAll(ctx context.Context, states ...State) error {
	return s.kv.Batch(ctx, func(b store.Batch) error {
		for _, st := range states {
			k, raw, err := encode(st)
			if err != nil {
				return err
			}
			b.Put(k, raw)
		}
		return nil
	})
}

// Load reads an account. A record stored under the key but naming another
// account is treated as not found.
func (s *Store) Load(ctx context.Context, walletID, accountID string) (State, error) {
	walletID, accountID = normalizeIDs(walletID, accountID)
	raw, err := s.kv.Get(ctx, key(walletID, accountID))
	if errors.Is(err, store.ErrNotFound) {
		return State{}, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, walletID, accountID)
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("accounts: corrupt state for %s/%s: %w", walletID, accountID, err)
	}
	if st.WalletID != walletID || st.AccountID != accountID {
		return State{}, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, walletID, accountID)
	}
	return st, nil
}

// Delete removes an account.
func (s *Store) Delete(ctx context.Context, walletID, accountID string) error {
	walletID, accountID = normalizeIDs(walletID, accountID)
	return s.kv.Delete(ctx, key(walletID, accountID))
}

// List returns every account of walletID.
func (s *Store) List(ctx context.Context, walletID string) ([]State, error) {
	walletID = canonicalize.NormalizeString(walletID)
	keys, err := s.kv.Keys(ctx, walletPrefix(walletID))
	if err != nil {
		return nil, err
	}
	out := make([]State, 0, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		var st State
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("accounts: corrupt state at %s: %w", k, err)
		}
		if st.WalletID != walletID {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// IsWatchOnly reports whether the account cannot sign. An unknown account
// is an error; callers treat any error as watch-only.
func (s *Store) IsWatchOnly(ctx context.Context, walletID, accountID string) (bool, error) {
	st, err := s.Load(ctx, walletID, accountID)
	if err != nil {
		return true, err
	}
	return st.WatchOnly, nil
}
