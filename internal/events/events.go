// Package events normalizes raw ERC-20 Approval logs into canonical events.
//
// Log batches arrive from paginated eth_getLogs queries and may contain
// duplicates, out-of-order records, and garbage emitted by non-conforming
// contracts. Normalization is local: one bad record is skipped, the rest of
// the batch is unaffected.
package events

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ApprovalEventSig is the keccak256 of "Approval(address,address,uint256)".
var ApprovalEventSig = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))

// ApprovalEvent is one on-chain Approval emission in canonical form.
// Addresses are lowercased hex with 0x prefix. Value is the new allowance
// as of this event, not a delta.
type ApprovalEvent struct {
	TokenAddress    string    `json:"tokenAddress"`
	Owner           string    `json:"owner"`
	Spender         string    `json:"spender"`
	Value           *big.Int  `json:"value"`
	BlockNumber     uint64    `json:"blockNumber"`
	TransactionHash string    `json:"transactionHash"`
	BlockTime       time.Time `json:"blockTime"`

	// LogIndex is the record's position within its block. Together with
	// BlockNumber it identifies the on-chain emission, which is how the
	// reducer recognizes the same event delivered twice by overlapping
	// log queries.
	LogIndex uint `json:"logIndex"`

	// Seq is the record's position in the input batch. It is the tie-break
	// for events in the same block: the later record wins.
	Seq int `json:"-"`
}

// Normalize converts a raw log into an ApprovalEvent, or nil if the record
// is not a well-formed Approval. Rejected records: wrong event signature,
// missing owner or spender topic, removed (reorged) logs, or a data field
// that does not hold exactly one uint256 word.
func Normalize(vLog types.Log, seq int) *ApprovalEvent {
	if vLog.Removed {
		return nil
	}
	if len(vLog.Topics) < 3 || vLog.Topics[0] != ApprovalEventSig {
		return nil
	}
	// Non-indexed value lives in Data as a single 32-byte word. Tokens that
	// index the value (3 indexed args) or emit empty data are rejected.
	if len(vLog.Data) != 32 {
		return nil
	}

	owner := common.BytesToAddress(vLog.Topics[1].Bytes())
	spender := common.BytesToAddress(vLog.Topics[2].Bytes())

	return &ApprovalEvent{
		TokenAddress:    CanonicalAddress(vLog.Address.Hex()),
		Owner:           CanonicalAddress(owner.Hex()),
		Spender:         CanonicalAddress(spender.Hex()),
		Value:           new(big.Int).SetBytes(vLog.Data),
		BlockNumber:     vLog.BlockNumber,
		TransactionHash: vLog.TxHash.Hex(),
		LogIndex:        vLog.Index,
		Seq:             seq,
	}
}

// NormalizeBatch converts a batch of raw logs, assigning sequence numbers in
// input order and silently dropping unparseable records. The returned skipped
// count is for the caller's logging/metrics; normalization itself never logs.
func NormalizeBatch(logs []types.Log) (events []*ApprovalEvent, skipped int) {
	events = make([]*ApprovalEvent, 0, len(logs))
	for i, vLog := range logs {
		ev := Normalize(vLog, i)
		if ev == nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped
}

// CanonicalAddress lowercases an address so that case-insensitively equal
// addresses compare equal as strings. Log data casing is inconsistent
// across providers; every address entering the pipeline goes through here.
func CanonicalAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
