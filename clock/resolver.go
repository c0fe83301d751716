package clock

import (
	"strings"
	"sync"
	"time"
)

// Resolution is the outcome of resolving a textual zone identifier.
type Resolution struct {
	// Requested is the identifier as it appeared in configuration, after
	// trimming surrounding whitespace.
	Requested string

	// Location holds the resolved zone rules. Never nil.
	Location *time.Location

	// FellBackToUTC is true when the requested zone was not found in the
	// host's rules database and UTC was substituted. An empty identifier
	// resolves to UTC without setting this flag.
	FellBackToUTC bool
}

// Resolver maps zone identifiers to [time.Location] rule sets with a UTC
// fallback for unknown zones. Resolutions are cached so repeated catalog
// rebuilds do not hit the rules database again. Safe for concurrent use.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]Resolution
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]Resolution)}
}

// Resolve returns the zone rules for id. An empty or whitespace-only id
// resolves to UTC with no fallback diagnostic. An unknown id resolves to UTC
// with FellBackToUTC set; the caller decides whether that is worth a
// warning. Resolve is deterministic for a given id.
func (r *Resolver) Resolve(id string) Resolution {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || strings.EqualFold(trimmed, "UTC") {
		return Resolution{Requested: trimmed, Location: time.UTC}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.cache[trimmed]; ok {
		return res
	}

	res := Resolution{Requested: trimmed}
	if loc, err := time.LoadLocation(trimmed); err == nil {
		res.Location = loc
	} else {
		res.Location = time.UTC
		res.FellBackToUTC = true
	}
	r.cache[trimmed] = res
	return res
}
