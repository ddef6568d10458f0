package bus

import (
	"fmt"
	"strings"
	"testing"

	"github.com/exclave/exclave/internal/unit"
)

func TestBroadcast_DeliversInOrder(t *testing.T) {
	t.Parallel()
	b := NewBroadcast(16)
	sub := b.Subscribe("console")

	for i := 0; i < 5; i++ {
		b.Publish(NewLog(unit.Internal("main"), fmt.Sprintf("line %d", i)))
	}
	b.Close()

	var got []string
	for r := range sub.Records() {
		got = append(got, r.Message)
	}
	want := "line 0,line 1,line 2,line 3,line 4"
	if strings.Join(got, ",") != want {
		t.Errorf("got %v", got)
	}
}

func TestBroadcast_LateSubscriberSeesNoHistory(t *testing.T) {
	t.Parallel()
	b := NewBroadcast(16)
	b.Publish(NewLog(unit.Internal("main"), "early"))

	sub := b.Subscribe("late")
	b.Publish(NewLog(unit.Internal("main"), "after"))
	b.Close()

	var got []string
	for r := range sub.Records() {
		got = append(got, r.Message)
	}
	if len(got) != 1 || got[0] != "after" {
		t.Errorf("late subscriber saw %v", got)
	}
}

func TestBroadcast_SlowSubscriberDropsWithWarning(t *testing.T) {
	t.Parallel()
	b := NewBroadcast(2)
	slow := b.Subscribe("slow")
	fast := b.Subscribe("fast")

	// The slow subscriber never reads: 2 records fit, the rest drop. The
	// fast subscriber takes each record as soon as it is published.
	var fastGot []string
	for i := 0; i < 6; i++ {
		b.Publish(NewLog(unit.Internal("main"), fmt.Sprintf("r%d", i)))
		select {
		case r := <-fast.Records():
			fastGot = append(fastGot, r.Message)
		default:
		}
	}
	if slow.Dropped() != 4 {
		t.Errorf("slow.Dropped() = %d, want 4", slow.Dropped())
	}

	// Anything still queued for the fast subscriber would be a gap warning
	// or a late record; a subscriber that keeps up has neither.
	b.Close()
	for r := range fast.Records() {
		fastGot = append(fastGot, r.Message)
	}
	if len(fastGot) != 6 {
		t.Errorf("fast subscriber got %d records, want all 6: %v", len(fastGot), fastGot)
	}
}

func TestBroadcast_GapWarningArrivesOnceRoomFrees(t *testing.T) {
	t.Parallel()
	b := NewBroadcast(2)
	sub := b.Subscribe("slow")

	b.Publish(NewLog(unit.Internal("main"), "r0"))
	b.Publish(NewLog(unit.Internal("main"), "r1"))   // buffer now full
	b.Publish(NewLog(unit.Internal("main"), "lost")) // dropped
	b.Publish(NewLog(unit.Internal("main"), "lost2")) // dropped

	if got := <-sub.Records(); got.Message != "r0" {
		t.Fatalf("first record = %q", got.Message)
	}
	if got := <-sub.Records(); got.Message != "r1" {
		t.Fatalf("second record = %q", got.Message)
	}

	// With room free again, the next publish delivers the gap warning
	// first; the record itself lands behind it.
	b.Publish(NewLog(unit.Internal("main"), "resumed"))
	warn := <-sub.Records()
	if warn.Class != ClassError || !strings.Contains(warn.Message, "dropped 2 records") {
		t.Errorf("gap warning = %+v", warn)
	}
	if got := <-sub.Records(); got.Message != "resumed" {
		t.Errorf("after warning got %q, want resumed", got.Message)
	}
}

func TestBroadcast_Unsubscribe(t *testing.T) {
	t.Parallel()
	b := NewBroadcast(4)
	sub := b.Subscribe("one")
	b.Unsubscribe(sub)

	if _, open := <-sub.Records(); open {
		t.Error("channel should be closed after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(NewLog(unit.Internal("main"), "x"))
}

func TestControl_OrderedLossless(t *testing.T) {
	t.Parallel()
	c := NewControl()
	src := unit.Name{ID: "button", Kind: unit.KindTrigger}
	c.Send(Command{Source: src, Op: OpStart})
	c.Send(Command{Source: src, Op: OpAbort})

	first := <-c.Commands()
	second := <-c.Commands()
	if first.Op != OpStart || second.Op != OpAbort {
		t.Errorf("order = %v %v", first.Op, second.Op)
	}
}
