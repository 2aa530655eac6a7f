// Package denylist maintains the set of known-malicious spender addresses.
//
// The set is immutable after load: a built-in seed list plus an optional
// JSON file supplied by the operator. Addresses are matched after
// canonicalization, never by raw string equality.
package denylist

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mbd888/approvalguard/internal/events"
)

// builtin holds drainer contracts observed in public incident reports.
// Operators extend the set via a denylist file, not by editing this.
var builtin = []string{
	"0x0000553f880ffa3a7f9411200100100fd5d00553", // Inferno Drainer forwarder
	"0x00000000ae347930bd1e7b0f35588b92280f9e75", // Angel Drainer
	"0x000000f20032b9e171844b00ea507e11960bd94a", // Pink Drainer
}

// fileFormat is the operator-supplied denylist document.
type fileFormat struct {
	Spenders []struct {
		Address string `json:"address"`
		Reason  string `json:"reason,omitempty"`
	} `json:"spenders"`
}

// Denylist is an immutable known-malicious spender set.
type Denylist struct {
	addrs map[string]struct{}
}

// New returns the built-in denylist.
func New() *Denylist {
	d := &Denylist{addrs: make(map[string]struct{}, len(builtin))}
	for _, a := range builtin {
		d.addrs[events.CanonicalAddress(a)] = struct{}{}
	}
	return d
}

// Load returns the built-in denylist merged with entries from a JSON file.
// An empty path returns just the built-in set.
func Load(path string) (*Denylist, error) {
	d := New()
	if path == "" {
		return d, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read denylist: %w", err)
	}

	var doc fileFormat
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse denylist: %w", err)
	}

	for _, s := range doc.Spenders {
		if s.Address == "" {
			continue
		}
		d.addrs[events.CanonicalAddress(s.Address)] = struct{}{}
	}
	return d, nil
}

// Contains reports whether the address is known-malicious.
func (d *Denylist) Contains(addr string) bool {
	_, ok := d.addrs[events.CanonicalAddress(addr)]
	return ok
}

// Size returns the number of denylisted addresses.
func (d *Denylist) Size() int {
	return len(d.addrs)
}
