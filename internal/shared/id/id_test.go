package id

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestTraceIDUnique(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.TraceID()
	id2 := gen.TraceID()

	if id1 == id2 {
		t.Error("Generated trace IDs should be unique")
	}
	if !id1.IsValid() || !id2.IsValid() {
		t.Error("Generated trace IDs should be valid")
	}
}

func TestTraceIDIsULID(t *testing.T) {
	gen := NewGenerator()

	tid := gen.TraceID()
	if len(tid.String()) != 32 {
		t.Errorf("trace ID hex should be 32 characters, got %d", len(tid.String()))
	}
	if _, err := ulid.Parse(gen.Generate().String()); err != nil {
		t.Errorf("ULID should parse: %v", err)
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Millisecond)
	tid := NewTraceID()
	after := time.Now().Add(time.Millisecond)

	ts := ulid.Time(ulid.ULID(tid).Time())
	if ts.Before(before.Truncate(time.Millisecond)) || ts.After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", ts, before, after)
	}
}

func TestSpanIDSkipsZero(t *testing.T) {
	// First 8 bytes are zero and must be rejected.
	entropy := bytes.NewReader(append(make([]byte, 8), 1, 2, 3, 4, 5, 6, 7, 8))
	gen := NewGeneratorWithEntropy(entropy)

	sid := gen.SpanID()
	if !sid.IsValid() {
		t.Fatal("span ID should be valid")
	}
	if sid.String() != "0102030405060708" {
		t.Errorf("unexpected span ID %s", sid)
	}
}

func TestSpanIDExhaustedEntropy(t *testing.T) {
	gen := NewGeneratorWithEntropy(bytes.NewReader(nil))

	if !gen.SpanID().IsValid() {
		t.Error("span ID should stay valid when entropy is exhausted")
	}
}

func TestTraceIDExhaustedEntropy(t *testing.T) {
	gen := NewGeneratorWithEntropy(bytes.NewReader(nil))

	before := time.Now().Truncate(time.Millisecond)
	tid := gen.TraceID()
	if !tid.IsValid() {
		t.Fatal("trace ID should stay valid when entropy is exhausted")
	}
	if ts := ulid.Time(ulid.ULID(tid).Time()); ts.Before(before) {
		t.Errorf("timestamp %v before %v", ts, before)
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				sid := gen.SpanID().String()
				mu.Lock()
				seen[sid] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d unique span IDs, got %d", workers*perWorker, len(seen))
	}
}
