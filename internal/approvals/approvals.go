// Package approvals reduces a stream of Approval events into the current
// allowance state per (token, spender) pair.
//
// The reducer is a pure function: no I/O, no clock reads, no shared state.
// Paginated log queries deliver events out of block order and with
// duplicates; the reducer tolerates both and is permutation-invariant over
// its input (same events in, same states out, regardless of order).
package approvals

import (
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/mbd888/approvalguard/internal/events"
)

// ErrMissingOwner is returned when Reduce is called without an owner
// address. That is a caller contract violation, not a data problem.
var ErrMissingOwner = errors.New("approvals: owner address is required")

// provenance identifies one on-chain emission. (block, logIndex) is unique
// per chain; tx hash and value are included so hand-built events without a
// log index still distinguish separate approvals in the same block.
type provenance struct {
	key      PairKey
	block    uint64
	logIndex uint
	txHash   string
	value    string
}

// MaxUint256 is the largest representable allowance.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PairKey identifies one (token, spender) approval pair. Both fields are
// canonical lowercase addresses; never build a PairKey from raw log casing.
type PairKey struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
}

// NewPairKey canonicalizes both addresses before building the key.
func NewPairKey(token, spender string) PairKey {
	return PairKey{
		Token:   events.CanonicalAddress(token),
		Spender: events.CanonicalAddress(spender),
	}
}

// PairState is the reduced current state of one approval pair for one owner.
type PairState struct {
	Owner            string    `json:"owner"`
	TokenAddress     string    `json:"tokenAddress"`
	Spender          string    `json:"spender"`
	CurrentAllowance *big.Int  `json:"currentAllowance"`
	IsUnlimited      bool      `json:"isUnlimited"`
	FirstSeenAt      time.Time `json:"firstSeenAt"`
	LastModifiedAt   time.Time `json:"lastModifiedAt"`
	LastBlock        uint64    `json:"lastBlock"`
	LastTxHash       string    `json:"lastTxHash"`
	MutationCount    int       `json:"mutationCount"`
}

// Key returns the pair's identity key.
func (s *PairState) Key() PairKey {
	return NewPairKey(s.TokenAddress, s.Spender)
}

// Options controls reducer output.
type Options struct {
	// IncludeZeroAllowances retains fully revoked pairs in the result for
	// audit reporting. Default behavior drops them: a zero allowance
	// carries no downstream risk.
	IncludeZeroAllowances bool

	// UnlimitedThreshold marks allowances at or above it as unlimited.
	// Zero value falls back to DefaultUnlimitedThreshold.
	UnlimitedThreshold *big.Int
}

// DefaultUnlimitedThreshold is half of MaxUint256. Real unlimited approvals
// are MaxUint256, or marginally below it after partial spends on tokens
// that decrement allowances; half the range has no practical false positives.
var DefaultUnlimitedThreshold = new(big.Int).Rsh(MaxUint256, 1)

// Reduce folds events for a single owner into per-pair current state.
//
// Within each pair, the event with the highest block number wins; exact
// block ties go to the event with the higher input sequence number
// (last-applied-wins within a block). Chunked log queries can deliver the
// same emission twice across chunk seams; re-deliveries are recognized by
// provenance (block, log index, tx hash, value) and folded once, so
// MutationCount counts distinct on-chain events. FirstSeenAt is the
// earliest event ever seen for the key and is deliberately NOT reset by a
// revoke → re-approve cycle: it preserves how long the owner↔spender
// relationship has existed. MutationCount accumulates across that cycle too.
func Reduce(owner string, evs []*events.ApprovalEvent, opts Options) (map[PairKey]*PairState, error) {
	owner = events.CanonicalAddress(owner)
	if owner == "" {
		return nil, ErrMissingOwner
	}

	threshold := opts.UnlimitedThreshold
	if threshold == nil || threshold.Sign() == 0 {
		threshold = DefaultUnlimitedThreshold
	}

	// Group by pair, keeping only this owner's events. Events for other
	// owners can appear when a caller feeds an unfiltered log batch, and
	// the same emission can arrive twice from overlapping chunk queries;
	// re-deliveries are dropped here so they count once.
	groups := make(map[PairKey][]*events.ApprovalEvent)
	seen := make(map[provenance]bool)
	for _, ev := range evs {
		if ev == nil || ev.Value == nil {
			continue
		}
		if events.CanonicalAddress(ev.Owner) != owner {
			continue
		}
		key := NewPairKey(ev.TokenAddress, ev.Spender)
		prov := provenance{
			key:      key,
			block:    ev.BlockNumber,
			logIndex: ev.LogIndex,
			txHash:   events.CanonicalAddress(ev.TransactionHash),
			value:    ev.Value.String(),
		}
		if seen[prov] {
			continue
		}
		seen[prov] = true
		groups[key] = append(groups[key], ev)
	}

	result := make(map[PairKey]*PairState, len(groups))
	for key, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].BlockNumber != group[j].BlockNumber {
				return group[i].BlockNumber < group[j].BlockNumber
			}
			return group[i].Seq < group[j].Seq
		})

		first := group[0]
		last := group[len(group)-1]

		firstSeen := first.BlockTime
		lastModified := last.BlockTime
		for _, ev := range group {
			if !ev.BlockTime.IsZero() && (firstSeen.IsZero() || ev.BlockTime.Before(firstSeen)) {
				firstSeen = ev.BlockTime
			}
		}

		state := &PairState{
			Owner:            owner,
			TokenAddress:     key.Token,
			Spender:          key.Spender,
			CurrentAllowance: new(big.Int).Set(last.Value),
			IsUnlimited:      last.Value.Cmp(threshold) >= 0,
			FirstSeenAt:      firstSeen,
			LastModifiedAt:   lastModified,
			LastBlock:        last.BlockNumber,
			LastTxHash:       last.TransactionHash,
			MutationCount:    len(group),
		}

		if state.CurrentAllowance.Sign() == 0 && !opts.IncludeZeroAllowances {
			continue
		}
		result[key] = state
	}

	return result, nil
}

// SortedKeys returns the pair keys in a stable order (token, then spender).
// Map iteration order is not deterministic; every consumer that needs
// reproducible output goes through here.
func SortedKeys(states map[PairKey]*PairState) []PairKey {
	keys := make([]PairKey, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Token != keys[j].Token {
			return keys[i].Token < keys[j].Token
		}
		return keys[i].Spender < keys[j].Spender
	})
	return keys
}
