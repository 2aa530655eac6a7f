// Command scanner runs a one-shot wallet scan and writes the JSON report.
//
// Usage:
//
//	scanner -owner 0xabc... [-from N] [-to N] [-include-zero] [-out report.json]
//
// Configuration (RPC_URL, CHAIN_ID, DENYLIST_PATH, ...) comes from the
// environment / .env, same as the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mbd888/approvalguard/internal/chain"
	"github.com/mbd888/approvalguard/internal/config"
	"github.com/mbd888/approvalguard/internal/denylist"
	"github.com/mbd888/approvalguard/internal/enrich"
	"github.com/mbd888/approvalguard/internal/logging"
	"github.com/mbd888/approvalguard/internal/risk"
	"github.com/mbd888/approvalguard/internal/scan"
)

func main() {
	owner := flag.String("owner", "", "wallet address to scan (required)")
	fromBlock := flag.Uint64("from", 0, "first block to scan (default: head minus SCAN_DEFAULT_RANGE)")
	toBlock := flag.Uint64("to", 0, "last block to scan (default: chain head)")
	includeZero := flag.Bool("include-zero", false, "retain fully revoked approvals in the report")
	out := flag.String("out", "", "write the report to a file instead of stdout")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	if *owner == "" {
		fmt.Fprintln(os.Stderr, "scanner: -owner is required")
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New(*logLevel, "text")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanner: config: %v\n", err)
		os.Exit(1)
	}

	fetcher, err := chain.Dial(cfg.RPCURL, chain.Config{
		ChunkSize:     cfg.ScanChunkSize,
		MaxAttempts:   4,
		RetryBaseWait: 500 * time.Millisecond,
		TimestampConc: cfg.EnrichConcurrency,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}

	deny, err := denylist.Load(cfg.DenylistPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}

	ethClient, err := chain.DialRaw(cfg.RPCURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
	enricher := enrich.New(ethClient, deny, cfg.EnrichConcurrency, cfg.ScanCacheTTL, logger)

	service := scan.NewService(fetcher, enricher, risk.NewEngine(risk.DefaultPolicy()), nil, scan.Config{
		ChainID:      cfg.ChainID,
		DefaultRange: cfg.ScanDefaultRange,
		CacheTTL:     cfg.ScanCacheTTL,
	}, logger)

	req := scan.Request{
		Owner:                 *owner,
		IncludeZeroAllowances: *includeZero,
		Force:                 true,
	}
	if *fromBlock > 0 {
		req.FromBlock = fromBlock
	}
	if *toBlock > 0 {
		req.ToBlock = toBlock
	}

	report, err := service.Scan(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanner: scan failed: %v\n", err)
		os.Exit(1)
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanner: encode report: %v\n", err)
		os.Exit(1)
	}

	if *out != "" {
		if err := os.WriteFile(*out, append(encoded, '\n'), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "scanner: write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "report written to %s (%d approvals, %d to revoke)\n",
			*out, len(report.Approvals), report.Summary.RevokeCount)
		return
	}

	fmt.Println(string(encoded))
}
