package membuf_test

import (
	"testing"

	"github.com/visiona/framecore/internal/membuf"
)

// Scenario: a freed buffer within 12.5% of a new request is reused.
// Contract: Alloc must not call the allocator when a good-fit buffer
// exists in the free list.
func TestAllocReusesGoodFit(t *testing.T) {
	p := membuf.NewPool()

	buf := p.Alloc(1000)
	if len(buf) != 1000 {
		t.Fatalf("expected len 1000, got %d", len(buf))
	}
	p.Free(buf)

	if p.InUse() != 0 {
		t.Fatalf("expected InUse 0 after Free, got %d", p.InUse())
	}

	reused := p.Alloc(950) // 1000 is within 950 + 950/8 = 1068
	if cap(reused) != 1000 {
		t.Fatalf("expected reused buffer of cap 1000, got %d", cap(reused))
	}
}

// Scenario: a freed buffer far larger than the new request is not
// considered a good fit and a fresh buffer is allocated instead.
func TestAllocSkipsPoorFit(t *testing.T) {
	p := membuf.NewPool()

	big := p.Alloc(10000)
	p.Free(big)

	small := p.Alloc(100)
	if cap(small) == 10000 {
		t.Fatalf("expected a fresh allocation, got the oversized cached buffer")
	}
}

func TestSetLimitIgnoresNonPositive(t *testing.T) {
	p := membuf.NewPool()
	before := p.Limit()

	if got := p.SetLimit(0); got != before {
		t.Fatalf("SetLimit(0) should be a no-op, limit changed to %d", got)
	}
	if got := p.SetLimit(-5); got != before {
		t.Fatalf("SetLimit(-5) should be a no-op, limit changed to %d", got)
	}

	if got := p.SetLimit(2048); got != 2048 {
		t.Fatalf("expected limit 2048, got %d", got)
	}
}

func TestFreeEvictsUnderPressure(t *testing.T) {
	p := membuf.NewPool()
	p.SetLimit(1500)

	a := p.Alloc(1000)
	b := p.Alloc(1000)
	p.Free(a) // used (1000) + freeLen (1000) > 1500, triggers eviction
	p.Free(b)

	// At least one of the two should have been evicted rather than
	// cached, since the budget can't hold both.
	reused := p.Alloc(1000)
	_ = reused
}

func TestAllocAfterClosePanics(t *testing.T) {
	p := membuf.NewPool()
	buf := p.Alloc(64)
	p.Free(buf)
	p.Close()

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected Alloc after Close to panic")
		}
	}()
	p.Alloc(64)
}

func TestAlignmentIsPowerOfTwo(t *testing.T) {
	p := membuf.NewPool()
	a := p.Alignment()
	if a != 32 && a != 64 {
		t.Fatalf("expected alignment 32 or 64, got %d", a)
	}
}
