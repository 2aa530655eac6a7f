// Package enrich provides best-effort token and spender metadata.
//
// Lookups never fail a scan: any error degrades to deterministic
// placeholders (symbol "UNKNOWN", 18 decimals, unverified spender). All
// fetching happens concurrently up front so the scoring core stays
// synchronous over fully-resolved data.
package enrich

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/approvalguard/internal/approvals"
	"github.com/mbd888/approvalguard/internal/events"
	"github.com/mbd888/approvalguard/internal/metrics"
	"github.com/mbd888/approvalguard/internal/risk"
)

// Placeholder values used when a lookup fails. Deterministic so repeated
// scans of the same wallet produce identical reports.
const (
	PlaceholderName     = "Unknown Token"
	PlaceholderSymbol   = "UNKNOWN"
	PlaceholderDecimals = uint8(18)
)

const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// Client is the subset of ethclient used for metadata calls.
type Client interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Denylist reports whether a spender is known-malicious.
type Denylist interface {
	Contains(addr string) bool
}

// TokenMeta is cached per-token metadata.
type TokenMeta struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Enricher resolves enrichment bundles for approval pairs.
type Enricher struct {
	client      Client
	denylist    Denylist
	logger      *slog.Logger
	concurrency int
	cacheTTL    time.Duration

	erc20 abi.ABI

	mu       sync.Mutex
	tokens   map[string]cachedToken
	spenders map[string]cachedSpender
}

type cachedToken struct {
	meta    TokenMeta
	expires time.Time
}

type cachedSpender struct {
	verified bool
	expires  time.Time
}

// New creates an enricher. denylist may be nil (nothing is malicious).
func New(client Client, denylist Denylist, concurrency int, cacheTTL time.Duration, logger *slog.Logger) *Enricher {
	if concurrency <= 0 {
		concurrency = 8
	}
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		// The ABI literal is a compile-time constant; this cannot happen
		// outside a bad edit.
		panic("enrich: invalid embedded ERC-20 ABI: " + err.Error())
	}
	return &Enricher{
		client:      client,
		denylist:    denylist,
		logger:      logger,
		concurrency: concurrency,
		cacheTTL:    cacheTTL,
		erc20:       parsed,
		tokens:      make(map[string]cachedToken),
		spenders:    make(map[string]cachedSpender),
	}
}

// EnrichAll resolves enrichment for every pair state with bounded
// parallelism and returns a fully-materialized map. Never returns an error:
// individual failures degrade to placeholders.
func (e *Enricher) EnrichAll(ctx context.Context, states map[approvals.PairKey]*approvals.PairState) map[approvals.PairKey]risk.Enrichment {
	keys := approvals.SortedKeys(states)
	result := make(map[approvals.PairKey]risk.Enrichment, len(keys))

	var mu sync.Mutex
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for _, key := range keys {
		wg.Add(1)
		sem <- struct{}{}
		go func(key approvals.PairKey) {
			defer wg.Done()
			defer func() { <-sem }()

			enr := e.enrichPair(ctx, key)

			mu.Lock()
			result[key] = enr
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	return result
}

func (e *Enricher) enrichPair(ctx context.Context, key approvals.PairKey) risk.Enrichment {
	meta := e.TokenMetadata(ctx, key.Token)
	verified := e.SpenderVerified(ctx, key.Spender)

	enr := risk.Enrichment{
		SpenderVerified: &verified,
		TokenName:       meta.Name,
		TokenSymbol:     meta.Symbol,
		TokenDecimals:   meta.Decimals,
	}
	if e.denylist != nil && e.denylist.Contains(key.Spender) {
		enr.KnownMalicious = true
	}
	return enr
}

// TokenMetadata returns name/symbol/decimals for a token, from cache when
// fresh, falling back to placeholders on any call or decode failure.
func (e *Enricher) TokenMetadata(ctx context.Context, token string) TokenMeta {
	token = events.CanonicalAddress(token)

	e.mu.Lock()
	if c, ok := e.tokens[token]; ok && time.Now().Before(c.expires) {
		e.mu.Unlock()
		metrics.EnrichmentLookupsTotal.WithLabelValues("hit").Inc()
		return c.meta
	}
	e.mu.Unlock()

	meta := TokenMeta{
		Name:     PlaceholderName,
		Symbol:   PlaceholderSymbol,
		Decimals: PlaceholderDecimals,
	}
	fallback := false

	addr := common.HexToAddress(token)
	if name, ok := e.callString(ctx, addr, "name"); ok {
		meta.Name = name
	} else {
		fallback = true
	}
	if symbol, ok := e.callString(ctx, addr, "symbol"); ok {
		meta.Symbol = symbol
	} else {
		fallback = true
	}
	if decimals, ok := e.callDecimals(ctx, addr); ok {
		meta.Decimals = decimals
	} else {
		fallback = true
	}

	if fallback {
		metrics.EnrichmentLookupsTotal.WithLabelValues("fallback").Inc()
	} else {
		metrics.EnrichmentLookupsTotal.WithLabelValues("miss").Inc()
	}

	e.mu.Lock()
	e.tokens[token] = cachedToken{meta: meta, expires: time.Now().Add(e.cacheTTL)}
	e.mu.Unlock()
	return meta
}

// SpenderVerified reports whether the spender looks like a deployed
// contract. An EOA or empty-code address can never be a legitimate
// long-lived spender, and "no data" degrades to unverified.
func (e *Enricher) SpenderVerified(ctx context.Context, spender string) bool {
	spender = events.CanonicalAddress(spender)

	e.mu.Lock()
	if c, ok := e.spenders[spender]; ok && time.Now().Before(c.expires) {
		e.mu.Unlock()
		return c.verified
	}
	e.mu.Unlock()

	verified := false
	code, err := e.client.CodeAt(ctx, common.HexToAddress(spender), nil)
	if err != nil {
		e.logger.Debug("spender code lookup failed", "spender", spender, "error", err)
	} else {
		verified = len(code) > 0
	}

	e.mu.Lock()
	e.spenders[spender] = cachedSpender{verified: verified, expires: time.Now().Add(e.cacheTTL)}
	e.mu.Unlock()
	return verified
}

func (e *Enricher) callString(ctx context.Context, addr common.Address, method string) (string, bool) {
	data, err := e.erc20.Pack(method)
	if err != nil {
		return "", false
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil || len(out) == 0 {
		return "", false
	}
	var s string
	if err := e.erc20.UnpackIntoInterface(&s, method, out); err != nil {
		// Some old tokens return bytes32 instead of string.
		return "", false
	}
	if s = strings.TrimSpace(s); s == "" {
		return "", false
	}
	return s, true
}

func (e *Enricher) callDecimals(ctx context.Context, addr common.Address) (uint8, bool) {
	data, err := e.erc20.Pack("decimals")
	if err != nil {
		return 0, false
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil || len(out) == 0 {
		return 0, false
	}
	var d uint8
	if err := e.erc20.UnpackIntoInterface(&d, "decimals", out); err != nil {
		return 0, false
	}
	return d, true
}
