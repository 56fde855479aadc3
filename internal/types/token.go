package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// NFTRecord is the display projection of one collection token. Records are
// materialized from a deterministic placeholder and upgraded in place when
// the token metadata document loads.
type NFTRecord struct {
	TokenID         uint64            `json:"token_id"`
	DisplayName     string            `json:"display_name"`
	Description     string            `json:"description,omitempty"`
	ImageCandidates []string          `json:"image_candidates"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Staked          bool              `json:"staked"`
}

// TokenSet is an insertion-ordered set of token IDs. Adds are idempotent,
// which keeps the owned and staked views free of duplicates regardless of
// which discovery path produced them.
type TokenSet struct {
	order []uint64
	index map[uint64]struct{}
}

// NewTokenSet creates a token set seeded with the given IDs
func NewTokenSet(ids ...uint64) *TokenSet {
	s := &TokenSet{index: make(map[uint64]struct{})}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts a token ID, reporting whether it was new
func (s *TokenSet) Add(id uint64) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Remove deletes a token ID, reporting whether it was present
func (s *TokenSet) Remove(id uint64) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether the set holds the token ID
func (s *TokenSet) Contains(id uint64) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of tokens in the set
func (s *TokenSet) Len() int {
	return len(s.order)
}

// Tokens returns the IDs in insertion order as a fresh slice
func (s *TokenSet) Tokens() []uint64 {
	out := make([]uint64, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy of the set
func (s *TokenSet) Clone() *TokenSet {
	return NewTokenSet(s.order...)
}

// RewardSnapshot is the cached view of the staking contract's reward
// figures, converted to display units. Values are read-through only; the
// contract remains authoritative.
type RewardSnapshot struct {
	Earned      decimal.Decimal `json:"earned"`
	DailyCap    decimal.Decimal `json:"daily_cap"`
	TotalStaked uint64          `json:"total_staked"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
