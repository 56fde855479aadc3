// Package state holds all session-derived client state in one container.
// Every mutation goes through a transition method on Store; readers get
// copies. Reconciliation writes carry a pass number so a result that lost
// the race to a newer pass is discarded instead of clobbering it.
package state

import (
	"sync"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Store is the single container for client state
type Store struct {
	mu sync.RWMutex

	session *types.WalletSession

	owned   *types.TokenSet
	staked  *types.TokenSet
	records map[uint64]*types.NFTRecord

	rewards types.RewardSnapshot

	operations map[string]types.PendingOperation
	opOrder    []string

	// generation hands out pass numbers; appliedPass tracks the newest
	// pass whose result was installed
	generation  uint64
	appliedPass uint64
}

// Snapshot is the read view served to the presentation layer
type Snapshot struct {
	Session *types.WalletSession `json:"session,omitempty"`
	Owned   []types.NFTRecord    `json:"owned"`
	Staked  []types.NFTRecord    `json:"staked"`
	Rewards types.RewardSnapshot `json:"rewards"`
}

// NewStore creates an empty state container
func NewStore() *Store {
	return &Store{
		owned:      types.NewTokenSet(),
		staked:     types.NewTokenSet(),
		records:    make(map[uint64]*types.NFTRecord),
		operations: make(map[string]types.PendingOperation),
	}
}

// SetSession publishes a connected wallet session
func (s *Store) SetSession(session *types.WalletSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.session = &copied
	monitoring.UpdateSessionConnected(true)
}

// ClearSession tears the session down and wipes everything derived from it.
// Operation records survive so settled flows stay visible.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	s.owned = types.NewTokenSet()
	s.staked = types.NewTokenSet()
	s.records = make(map[uint64]*types.NFTRecord)
	s.rewards = types.RewardSnapshot{}

	monitoring.UpdateSessionConnected(false)
	monitoring.UpdateTokenCounts(0, 0)
}

// Session returns a copy of the current session, or nil
func (s *Store) Session() *types.WalletSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil
	}
	copied := *s.session
	return &copied
}

// SessionAddress returns the session address and whether one is active
func (s *Store) SessionAddress() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return common.Address{}, false
	}
	return s.session.Address, true
}

// NextGeneration reserves the pass number for a new reconciliation run
func (s *Store) NextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	return s.generation
}

// ApplyReconciliation installs a finished pass's result. The write is
// discarded when the session ended or a newer pass already applied,
// reported by the return value.
func (s *Store) ApplyReconciliation(pass uint64, owned, staked *types.TokenSet, records map[uint64]*types.NFTRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return false
	}
	if pass <= s.appliedPass {
		monitoring.ReconcileStaleDiscards.Inc()
		return false
	}

	s.owned = owned.Clone()
	s.staked = staked.Clone()
	s.records = make(map[uint64]*types.NFTRecord, len(records))
	for id, record := range records {
		copied := *record
		copied.Staked = s.staked.Contains(id)
		s.records[id] = &copied
	}
	s.appliedPass = pass

	monitoring.UpdateTokenCounts(s.owned.Len(), s.staked.Len())
	return true
}

// MoveToStaked optimistically moves a token from owned to staked
func (s *Store) MoveToStaked(tokenID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owned.Remove(tokenID) {
		return false
	}
	s.staked.Add(tokenID)
	if record, ok := s.records[tokenID]; ok {
		record.Staked = true
	}
	monitoring.UpdateTokenCounts(s.owned.Len(), s.staked.Len())
	return true
}

// MoveToOwned optimistically moves a token from staked to owned
func (s *Store) MoveToOwned(tokenID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.staked.Remove(tokenID) {
		return false
	}
	s.owned.Add(tokenID)
	if record, ok := s.records[tokenID]; ok {
		record.Staked = false
	}
	monitoring.UpdateTokenCounts(s.owned.Len(), s.staked.Len())
	return true
}

// AddOwned inserts a token straight into the owned set, used when a mint
// settles before the next reconciliation pass
func (s *Store) AddOwned(record *types.NFTRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	copied.Staked = false
	s.owned.Add(copied.TokenID)
	s.records[copied.TokenID] = &copied
	monitoring.UpdateTokenCounts(s.owned.Len(), s.staked.Len())
}

// AddStaked inserts a token straight into the staked set, used when a
// Staked event arrives for a token the client has not enumerated yet
func (s *Store) AddStaked(record *types.NFTRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	copied.Staked = true
	s.staked.Add(copied.TokenID)
	s.records[copied.TokenID] = &copied
	monitoring.UpdateTokenCounts(s.owned.Len(), s.staked.Len())
}

// UpgradeRecord overlays fetched metadata onto an existing record,
// keeping its set membership
func (s *Store) UpgradeRecord(record *types.NFTRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.TokenID]
	if !ok {
		return
	}
	copied := *record
	copied.Staked = existing.Staked
	s.records[record.TokenID] = &copied
}

// OwnedTokens returns the owned token IDs in insertion order
func (s *Store) OwnedTokens() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owned.Tokens()
}

// StakedTokens returns the staked token IDs in insertion order
func (s *Store) StakedTokens() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staked.Tokens()
}

// StakedSetSnapshot returns a copy of the staked set, the stale-cache
// fallback of last resort for reconciliation
func (s *Store) StakedSetSnapshot() *types.TokenSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staked.Clone()
}

// SetRewards installs a fresh reward snapshot
func (s *Store) SetRewards(snapshot types.RewardSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewards = snapshot
}

// Rewards returns the cached reward snapshot
func (s *Store) Rewards() types.RewardSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rewards
}

// ZeroEarned resets the earned figure after a claim settles
func (s *Store) ZeroEarned() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rewards.Earned = decimal.Zero
	s.rewards.UpdatedAt = time.Now()
}

// AdjustTotalStaked nudges the cached contract-wide staked count after an
// optimistic set move
func (s *Store) AdjustTotalStaked(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := int64(s.rewards.TotalStaked) + delta
	if next < 0 {
		next = 0
	}
	s.rewards.TotalStaked = uint64(next)
}

// PutOperation inserts or replaces an operation record
func (s *Store) PutOperation(op *types.PendingOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operations[op.ID]; !ok {
		s.opOrder = append(s.opOrder, op.ID)
	}
	copied := *op
	copied.TxHashes = append([]string(nil), op.TxHashes...)
	s.operations[op.ID] = copied
}

// Operation returns one operation record by ID
func (s *Store) Operation(id string) (types.PendingOperation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[id]
	return op, ok
}

// Operations returns all operation records, newest first
func (s *Store) Operations() []types.PendingOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PendingOperation, 0, len(s.opOrder))
	for i := len(s.opOrder) - 1; i >= 0; i-- {
		out = append(out, s.operations[s.opOrder[i]])
	}
	return out
}

// Snapshot returns the full read view for the presentation layer
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Owned:   make([]types.NFTRecord, 0, s.owned.Len()),
		Staked:  make([]types.NFTRecord, 0, s.staked.Len()),
		Rewards: s.rewards,
	}
	if s.session != nil {
		copied := *s.session
		snap.Session = &copied
	}
	for _, id := range s.owned.Tokens() {
		snap.Owned = append(snap.Owned, s.recordFor(id, false))
	}
	for _, id := range s.staked.Tokens() {
		snap.Staked = append(snap.Staked, s.recordFor(id, true))
	}
	return snap
}

func (s *Store) recordFor(id uint64, staked bool) types.NFTRecord {
	if record, ok := s.records[id]; ok {
		copied := *record
		copied.Staked = staked
		return copied
	}
	return types.NFTRecord{TokenID: id, Staked: staked}
}
