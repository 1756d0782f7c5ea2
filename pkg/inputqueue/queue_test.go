package inputqueue

import (
	"testing"
	"time"

	"github.com/dialogforge/dialogforge/pkg/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestQueue(t *testing.T, timeout time.Duration) (*Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := New(memory.NewMapStore(), WithTimeout(timeout), WithClock(clock.Now))
	return q, clock
}

func TestFirstInputProcessesImmediately(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := t.Context()

	var got []bool
	if err := q.AddInput(ctx, "conv", "in-1", func(ok bool) { got = append(got, ok) }); err != nil {
		t.Fatalf("AddInput: %v", err)
	}

	if len(got) != 1 || !got[0] {
		t.Fatalf("handler calls = %v, want [true]", got)
	}
}

func TestInputsProcessInOrder(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := t.Context()

	var order []string
	add := func(id string) {
		if err := q.AddInput(ctx, "conv", id, func(ok bool) {
			if ok {
				order = append(order, id)
			}
		}); err != nil {
			t.Fatalf("AddInput %s: %v", id, err)
		}
	}

	add("in-1")
	add("in-2")
	add("in-3")

	// Only the head has fired; the rest wait on the mutex slot.
	if len(order) != 1 || order[0] != "in-1" {
		t.Fatalf("order after adds = %v", order)
	}

	if err := q.MessageHandled(ctx, "conv", "in-1"); err != nil {
		t.Fatalf("MessageHandled: %v", err)
	}
	if err := q.MessageHandled(ctx, "conv", "in-2"); err != nil {
		t.Fatalf("MessageHandled: %v", err)
	}
	if err := q.MessageHandled(ctx, "conv", "in-3"); err != nil {
		t.Fatalf("MessageHandled: %v", err)
	}

	want := []string{"in-1", "in-2", "in-3"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

// With the processing slot held past the timeout, a queued input older
// than the timeout expires with ok=false and the younger one behind it
// still gets its turn.
func TestExpiryAndAbandonedMutex(t *testing.T) {
	timeout := 2 * time.Minute
	q, clock := newTestQueue(t, timeout)
	ctx := t.Context()

	results := make(map[string]bool)

	// Occupy the slot, then never release it.
	if err := q.AddInput(ctx, "conv", "stuck", func(ok bool) { results["stuck"] = ok }); err != nil {
		t.Fatalf("AddInput stuck: %v", err)
	}

	// "a" enters now; "b" enters just after the slot aged one second.
	if err := q.AddInput(ctx, "conv", "a", func(ok bool) { results["a"] = ok }); err != nil {
		t.Fatalf("AddInput a: %v", err)
	}
	clock.Advance(time.Second)
	if err := q.AddInput(ctx, "conv", "b", func(ok bool) { results["b"] = ok }); err != nil {
		t.Fatalf("AddInput b: %v", err)
	}

	// Jump past the timeout relative to "a" but not "b": the abandoned
	// mutex is cleared, "a" expires, "b" occupies the slot.
	clock.Advance(timeout)

	if err := q.AddInput(ctx, "conv", "c", func(ok bool) { results["c"] = ok }); err != nil {
		t.Fatalf("AddInput c: %v", err)
	}

	if ok, fired := results["a"]; !fired || ok {
		t.Errorf("input a: fired=%v ok=%v, want fired with ok=false", fired, ok)
	}
	if ok, fired := results["b"]; !fired || !ok {
		t.Errorf("input b: fired=%v ok=%v, want fired with ok=true", fired, ok)
	}
	if _, fired := results["c"]; fired {
		t.Error("input c should still be waiting behind b")
	}

	// Releasing b lets c through.
	if err := q.MessageHandled(ctx, "conv", "b"); err != nil {
		t.Fatalf("MessageHandled b: %v", err)
	}
	if ok := results["c"]; !ok {
		t.Error("input c should process after b releases")
	}
}

func TestReleaseByNonOccupantKeepsSlot(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := t.Context()

	var secondFired bool
	q.AddInput(ctx, "conv", "in-1", func(bool) {})
	q.AddInput(ctx, "conv", "in-2", func(ok bool) { secondFired = ok })

	// Wrong id: logged and ignored, the slot stays held.
	if err := q.MessageHandled(ctx, "conv", "in-99"); err != nil {
		t.Fatalf("MessageHandled: %v", err)
	}
	if secondFired {
		t.Error("slot should still be held by in-1")
	}

	if err := q.MessageHandled(ctx, "conv", "in-1"); err != nil {
		t.Fatalf("MessageHandled: %v", err)
	}
	if !secondFired {
		t.Error("in-2 should run after the real occupant releases")
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := t.Context()

	var aOK, bOK bool
	q.AddInput(ctx, "conv-a", "in-1", func(ok bool) { aOK = ok })
	q.AddInput(ctx, "conv-b", "in-2", func(ok bool) { bOK = ok })

	if !aOK || !bOK {
		t.Errorf("heads of separate conversations should both process: a=%v b=%v", aOK, bOK)
	}
}
