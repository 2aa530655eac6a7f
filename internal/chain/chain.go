// Package chain fetches approval logs and block timestamps from an EVM node.
//
// All network I/O for a scan happens here, before the pure pipeline runs.
// Queries are chunked to stay under provider log limits, each chunk retried
// with backoff. Duplicated or out-of-order results are passed through as-is;
// the reducer is specified to tolerate both.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/approvalguard/internal/events"
	"github.com/mbd888/approvalguard/internal/metrics"
	"github.com/mbd888/approvalguard/internal/retry"
)

// Client is the subset of ethclient used by the fetcher. Narrowed for tests.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config for the log fetcher.
type Config struct {
	ChunkSize     uint64        // blocks per eth_getLogs query
	MaxAttempts   int           // retry attempts per chunk
	RetryBaseWait time.Duration // initial backoff
	TimestampConc int           // parallel header lookups
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     10_000,
		MaxAttempts:   4,
		RetryBaseWait: 500 * time.Millisecond,
		TimestampConc: 8,
	}
}

// Fetcher pulls approval logs for one owner over a block range.
type Fetcher struct {
	client Client
	config Config
	logger *slog.Logger

	// Block timestamps are immutable once finalized; cache across scans.
	mu         sync.Mutex
	timestamps map[uint64]time.Time
}

// Dial connects to the RPC endpoint and returns a fetcher over it.
func Dial(rpcURL string, cfg Config, logger *slog.Logger) (*Fetcher, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewFetcher(client, cfg, logger), nil
}

// DialRaw returns a bare ethclient for collaborators that need call/code
// access beyond the fetcher's narrow interface (e.g. metadata enrichment).
func DialRaw(rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return client, nil
}

// NewFetcher wraps an existing client (used by tests with a fake).
func NewFetcher(client Client, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.ChunkSize == 0 {
		cfg = DefaultConfig()
	}
	return &Fetcher{
		client:     client,
		config:     cfg,
		logger:     logger,
		timestamps: make(map[uint64]time.Time),
	}
}

// LatestBlock returns the node's current head block number.
func (f *Fetcher) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := retry.Do(ctx, f.config.MaxAttempts, f.config.RetryBaseWait, func() error {
		var err error
		head, err = f.client.BlockNumber(ctx)
		observeRPC("eth_blockNumber", err)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return head, nil
}

// FetchApprovalLogs returns every Approval log where the owner topic matches
// the given address, across [fromBlock, toBlock] inclusive. The result is
// the raw concatenation of per-chunk responses: possibly duplicated at chunk
// seams, in whatever order the provider returned.
func (f *Fetcher) FetchApprovalLogs(ctx context.Context, owner string, fromBlock, toBlock uint64) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("invalid block range: %d-%d", fromBlock, toBlock)
	}

	ownerTopic := common.BytesToHash(common.HexToAddress(owner).Bytes())
	var all []types.Log

	for _, chunk := range chunkRanges(fromBlock, toBlock, f.config.ChunkSize) {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(chunk.From),
			ToBlock:   new(big.Int).SetUint64(chunk.To),
			Topics: [][]common.Hash{
				{events.ApprovalEventSig},
				{ownerTopic}, // owner is the first indexed arg
				nil,          // any spender
			},
		}

		var logs []types.Log
		err := retry.Do(ctx, f.config.MaxAttempts, f.config.RetryBaseWait, func() error {
			var err error
			logs, err = f.client.FilterLogs(ctx, query)
			observeRPC("eth_getLogs", err)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to filter logs %d-%d: %w", chunk.From, chunk.To, err)
		}

		all = append(all, logs...)
	}

	f.logger.Debug("fetched approval logs",
		"owner", owner,
		"from", fromBlock,
		"to", toBlock,
		"count", len(all),
	)
	return all, nil
}

// ResolveTimestamps fills ev.BlockTime for every event from block headers,
// deduplicating block numbers and fetching with bounded parallelism. A block
// whose header cannot be fetched leaves its events with a zero BlockTime;
// the scorer treats that as "no dormancy signal" rather than failing.
func (f *Fetcher) ResolveTimestamps(ctx context.Context, evs []*events.ApprovalEvent) {
	needed := make(map[uint64]struct{})
	f.mu.Lock()
	for _, ev := range evs {
		if _, ok := f.timestamps[ev.BlockNumber]; !ok {
			needed[ev.BlockNumber] = struct{}{}
		}
	}
	f.mu.Unlock()

	sem := make(chan struct{}, f.config.TimestampConc)
	var wg sync.WaitGroup
	for block := range needed {
		wg.Add(1)
		sem <- struct{}{}
		go func(block uint64) {
			defer wg.Done()
			defer func() { <-sem }()

			var header *types.Header
			err := retry.Do(ctx, f.config.MaxAttempts, f.config.RetryBaseWait, func() error {
				var err error
				header, err = f.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
				observeRPC("eth_getBlockByNumber", err)
				return err
			})
			if err != nil {
				f.logger.Warn("failed to resolve block timestamp", "block", block, "error", err)
				return
			}

			f.mu.Lock()
			f.timestamps[block] = time.Unix(int64(header.Time), 0).UTC()
			f.mu.Unlock()
		}(block)
	}
	wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range evs {
		if ts, ok := f.timestamps[ev.BlockNumber]; ok {
			ev.BlockTime = ts
		}
	}
}

// blockRange is one inclusive chunk of a larger query range.
type blockRange struct {
	From uint64
	To   uint64
}

// chunkRanges splits [from, to] into inclusive chunks of at most size blocks.
func chunkRanges(from, to, size uint64) []blockRange {
	var ranges []blockRange
	for start := from; start <= to; {
		end := start + size - 1
		if end > to || end < start { // overflow guard
			end = to
		}
		ranges = append(ranges, blockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges
}

func observeRPC(method string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, result).Inc()
}
