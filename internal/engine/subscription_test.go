package engine

import (
	"fmt"
	"testing"
	"time"
)

func noopSend(Event, interface{}) {}
func noopErr(string)              {}

func TestAddSubCreatesAndExtends(t *testing.T) {
	table := NewSubscriptionTable()

	err := table.AddSub("cidA", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xaaa"}})
	if err != nil {
		t.Fatalf("AddSub: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}

	if err := table.AddSub("cidA", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xbbb"}}); err != nil {
		t.Fatalf("extend AddSub: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() after extend = %d, want 1 (same cid/event entry)", table.Len())
	}
	if got := len(table.CidInterests("cidA", EventSubscribeAccount)); got != 2 {
		t.Fatalf("CidInterests len = %d, want 2", got)
	}
}

// TestAddSubDuplicateAddressRejected is scenario S6: subscribing the same
// address twice on one connection fails the second time, and the first
// subscription keeps delivering.
func TestAddSubDuplicateAddressRejected(t *testing.T) {
	table := NewSubscriptionTable()

	if err := table.AddSub("cidB", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xaaa"}}); err != nil {
		t.Fatalf("first AddSub: %v", err)
	}
	err := table.AddSub("cidB", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xaaa"}})
	if err != ErrAlreadySubscribed {
		t.Fatalf("second AddSub err = %v, want ErrAlreadySubscribed", err)
	}

	subs := table.GetSubsForEvent(EventSubscribeAccount)
	if len(subs) != 1 || len(subs[0].Interests) != 1 {
		t.Fatalf("first subscription not intact after rejected duplicate: %+v", subs)
	}
}

func TestAddSubCapacityExceeded(t *testing.T) {
	table := NewSubscriptionTable()

	for i := 0; i < MaxSubscriptions; i++ {
		cid := ConnID(fmt.Sprintf("cid-%d", i))
		if err := table.AddSub(cid, EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xaaa"}}); err != nil {
			t.Fatalf("AddSub #%d: %v", i, err)
		}
	}
	if table.Len() != MaxSubscriptions {
		t.Fatalf("Len() = %d, want %d", table.Len(), MaxSubscriptions)
	}

	err := table.AddSub("cid-overflow", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xbbb"}})
	if err != ErrCapacityExceeded {
		t.Fatalf("overflow AddSub err = %v, want ErrCapacityExceeded", err)
	}
}

func TestAddSubOnTombstonedConnIsNoop(t *testing.T) {
	table := NewSubscriptionTable()
	if err := table.AddSub("cidC", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xaaa"}}); err != nil {
		t.Fatalf("AddSub: %v", err)
	}
	table.CloseCid("cidC")

	if err := table.AddSub("cidC", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xbbb"}}); err != nil {
		t.Fatalf("AddSub on tombstoned cid returned error instead of silent drop: %v", err)
	}
	if len(table.GetSubsForEvent(EventSubscribeAccount)) != 0 {
		t.Fatalf("tombstoned cid still present in dispatch snapshot")
	}
}

func TestCloseCidRemovesFromDispatchImmediately(t *testing.T) {
	table := NewSubscriptionTable()
	if err := table.AddSub("cidD", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xaaa"}}); err != nil {
		t.Fatalf("AddSub: %v", err)
	}
	table.CloseCid("cidD")

	if got := len(table.GetSubsForEvent(EventSubscribeAccount)); got != 0 {
		t.Fatalf("GetSubsForEvent after close = %d entries, want 0", got)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() after close = %d, want 0", table.Len())
	}
}

func TestSweepOnceReclaimsAfterGraceOnly(t *testing.T) {
	table := NewSubscriptionTable()
	if err := table.AddSub("cidE", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: "0xaaa"}}); err != nil {
		t.Fatalf("AddSub: %v", err)
	}
	table.CloseCid("cidE")

	closedAt := table.rows["cidE"].tombstonedAt

	if n := table.sweepOnce(closedAt.Add(tombstoneGrace - time.Second)); n != 0 {
		t.Fatalf("sweepOnce reclaimed %d rows before grace elapsed, want 0", n)
	}
	if _, ok := table.rows["cidE"]; !ok {
		t.Fatalf("row reclaimed too early")
	}

	if n := table.sweepOnce(closedAt.Add(tombstoneGrace)); n != 1 {
		t.Fatalf("sweepOnce reclaimed %d rows at grace boundary, want 1", n)
	}
	if _, ok := table.rows["cidE"]; ok {
		t.Fatalf("row not reclaimed after grace elapsed")
	}
}
