// Package id generates the prefixed ULIDs used to label runs and stream
// connections.
//
// ULIDs sort by creation time, so run ids in logs line up with the order runs
// started. The prefix tells the kind of id apart at a glance (run_*, ws_*, req_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunID identifies one execution of a source text.
type RunID string

// ConnectionID identifies one stream connection.
type ConnectionID string

// RequestID identifies one HTTP request.
type RequestID string

const (
	RunPrefix        = "run"
	ConnectionPrefix = "ws"
	RequestPrefix    = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
	now       func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. Ids from one
// generator within the same millisecond still sort in generation order.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy, now: time.Now}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRunID generates a run ID
func (g *Generator) NewRunID() RunID {
	return RunID(g.GenerateWithPrefix(RunPrefix))
}

// NewConnectionID generates a connection ID
func (g *Generator) NewConnectionID() ConnectionID {
	return ConnectionID(g.GenerateWithPrefix(ConnectionPrefix))
}

// NewRequestID generates a request ID
func (g *Generator) NewRequestID() RequestID {
	return RequestID(g.GenerateWithPrefix(RequestPrefix))
}

// NewRunID generates a run ID from the default generator
func NewRunID() RunID {
	return Default().NewRunID()
}

// NewConnectionID generates a connection ID from the default generator
func NewConnectionID() ConnectionID {
	return Default().NewConnectionID()
}

// NewRequestID generates a request ID from the default generator
func NewRequestID() RequestID {
	return Default().NewRequestID()
}

func (id RunID) String() string        { return string(id) }
func (id ConnectionID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

// IsValid reports whether id is a prefixed or bare ULID.
func IsValid(id string) bool {
	_, _, err := Parse(id)
	return err == nil
}

// Parse splits a prefixed id into its prefix and ULID. A bare ULID has an empty prefix.
func Parse(id string) (string, ulid.ULID, error) {
	prefix, raw, found := strings.Cut(id, "_")
	if !found {
		prefix, raw = "", id
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("invalid id %q: %w", id, err)
	}
	return prefix, parsed, nil
}

// Timestamp extracts the creation time from an id
func Timestamp(id string) (time.Time, error) {
	_, parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
