package reqstore

import (
	"sync"
	"testing"

	"github.com/hogtrace/hogtrace/internal/vm"
)

func TestUnsetSlotReadsNone(t *testing.T) {
	s := New("req-1")
	if got := s.Get("anything"); !got.IsNone() {
		t.Fatalf("unset slot = %s, want None", got)
	}
}

func TestWritesVisibleWithinRequest(t *testing.T) {
	s := New("req-1")
	s.Set("user", vm.Str("alice"))
	s.Set("count", vm.Int(3))

	if got := s.Get("user"); !got.Equal(vm.Str("alice")) {
		t.Fatalf("user = %s", got)
	}
	if got := s.Get("count"); !got.Equal(vm.Int(3)) {
		t.Fatalf("count = %s", got)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestRequestsAreIsolated(t *testing.T) {
	a := New("req-a")
	b := New("req-b")
	a.Set("secret", vm.Str("a-only"))

	if got := b.Get("secret"); !got.IsNone() {
		t.Fatalf("request b observed request a's slot: %s", got)
	}
}

func TestResetClearsSlots(t *testing.T) {
	s := New("req-1")
	s.Set("user", vm.Str("alice"))
	s.Reset("req-2")

	if s.RequestID() != "req-2" {
		t.Fatalf("request id = %q", s.RequestID())
	}
	if got := s.Get("user"); !got.IsNone() {
		t.Fatalf("slot survived reset: %s", got)
	}
}

func TestSharedConcurrentAccess(t *testing.T) {
	s := NewShared("req-1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Set("n", vm.Int(n))
				_ = s.Get("n")
			}
		}(int64(i))
	}
	wg.Wait()

	if got := s.Get("n"); got.Kind() != vm.KindInt {
		t.Fatalf("final slot kind = %s", got.Kind())
	}
}

func TestValueCodecRoundTrip(t *testing.T) {
	tests := []vm.Value{
		vm.None(),
		vm.Bool(true),
		vm.Bool(false),
		vm.Int(-42),
		vm.Float(3.25),
		vm.Str("hello"),
		vm.Str(""),
	}

	for _, want := range tests {
		data, err := encodeValue(want)
		if err != nil {
			t.Fatalf("encode %s: %v", want, err)
		}
		got := decodeValue(data)
		if !got.Equal(want) || got.Kind() != want.Kind() {
			t.Fatalf("round trip %s -> %s", want, got)
		}
	}
}

func TestObjectsDegradeToNone(t *testing.T) {
	data, err := encodeValue(vm.Object(map[string]int{"a": 1}))
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeValue(data); !got.IsNone() {
		t.Fatalf("object decoded as %s, want None", got)
	}
}

func TestDecodeGarbageIsNone(t *testing.T) {
	if got := decodeValue([]byte("{not json")); !got.IsNone() {
		t.Fatalf("garbage decoded as %s", got)
	}
}
