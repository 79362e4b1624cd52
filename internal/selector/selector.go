// Package selector implements the predicate used to decide which account
// and transaction notifications are captured. A selector is either
// "match all" or an explicit identity set; there is deliberately no other
// variant and no extension point.
package selector

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MatchAllToken selects every identity when it appears in the configured set.
const MatchAllToken = "*"

// AccountsSelector decides whether an account update is captured.
// Read-only after construction; safe for concurrent use without locking.
type AccountsSelector struct {
	matchAll bool
	set      map[solana.PublicKey]struct{}
}

// NewAccountsSelector builds a selector from configured base58 addresses.
// A nil or empty list yields a selector that captures nothing (the account
// stream is effectively disabled). A single "*" entry captures everything.
func NewAccountsSelector(accounts []string) (*AccountsSelector, error) {
	matchAll, set, err := parseIdentities(accounts)
	if err != nil {
		return nil, err
	}
	return &AccountsSelector{matchAll: matchAll, set: set}, nil
}

// Accepts reports whether the account should be captured.
// The match-all case short-circuits without touching the set.
func (s *AccountsSelector) Accepts(pubkey solana.PublicKey) bool {
	if s.matchAll {
		return true
	}
	_, ok := s.set[pubkey]
	return ok
}

// Enabled reports whether the selector can ever accept anything.
func (s *AccountsSelector) Enabled() bool {
	return s.matchAll || len(s.set) > 0
}

// TransactionSelector decides whether a transaction is captured, based on
// the accounts it mentions. Read-only after construction.
type TransactionSelector struct {
	matchAll bool
	set      map[solana.PublicKey]struct{}
}

// NewTransactionSelector builds a selector from configured base58 "mentions"
// addresses, with the same empty and "*" semantics as NewAccountsSelector.
func NewTransactionSelector(mentions []string) (*TransactionSelector, error) {
	matchAll, set, err := parseIdentities(mentions)
	if err != nil {
		return nil, err
	}
	return &TransactionSelector{matchAll: matchAll, set: set}, nil
}

// Accepts reports whether a transaction mentioning the given accounts
// should be captured: true iff at least one mentioned account is selected.
func (s *TransactionSelector) Accepts(mentioned []solana.PublicKey) bool {
	if s.matchAll {
		return true
	}
	for _, pubkey := range mentioned {
		if _, ok := s.set[pubkey]; ok {
			return true
		}
	}
	return false
}

// Enabled reports whether the selector can ever accept anything.
func (s *TransactionSelector) Enabled() bool {
	return s.matchAll || len(s.set) > 0
}

func parseIdentities(identities []string) (matchAll bool, set map[solana.PublicKey]struct{}, err error) {
	set = make(map[solana.PublicKey]struct{}, len(identities))
	for _, raw := range identities {
		if raw == MatchAllToken {
			return true, nil, nil
		}
		if raw == "" {
			return false, nil, fmt.Errorf("empty identity in selector")
		}
		pubkey, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return false, nil, fmt.Errorf("invalid identity %q in selector: %w", raw, err)
		}
		set[pubkey] = struct{}{}
	}
	return false, set, nil
}
