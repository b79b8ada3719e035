// Package id generates identifiers for traces and spans.
//
// Trace ids are ULIDs, so the 128-bit W3C trace id carries its creation
// millisecond in the high 48 bits and sorts by time. Span ids are 64 random
// bits drawn from the same entropy source.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// Generator generates trace and span ids.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
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

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID. When the entropy source fails the random
// part is taken from the clock, so it never panics.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	now := time.Now()
	u, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err == nil {
		return u
	}
	var e [10]byte
	binary.BigEndian.PutUint64(e[2:], uint64(now.UnixNano())|1)
	_ = u.SetTime(ulid.Timestamp(now))
	_ = u.SetEntropy(e[:])
	return u
}

// TraceID returns a new, valid trace id.
func (g *Generator) TraceID() trace.TraceID {
	return trace.TraceID(g.Generate())
}

// SpanID returns a new, valid (non-zero) span id.
func (g *Generator) SpanID() trace.SpanID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	var sid trace.SpanID
	for {
		if _, err := io.ReadFull(g.entropy, sid[:]); err != nil {
			// Entropy exhausted; fall back to the clock so the id stays non-zero.
			binary.BigEndian.PutUint64(sid[:], uint64(time.Now().UnixNano())|1)
			return sid
		}
		if sid.IsValid() {
			return sid
		}
	}
}

// NewTraceID generates a trace id from the default generator.
func NewTraceID() trace.TraceID {
	return Default().TraceID()
}

// NewSpanID generates a span id from the default generator.
func NewSpanID() trace.SpanID {
	return Default().SpanID()
}
