package ven

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/eventstore"
)

const sampleBroadcast = `<?xml version="1.0" encoding="UTF-8"?>
<oadr:oadrDistributeEvent xmlns:oadr="http://openadr.org/oadr-2.0a/2012/07"
  xmlns:pyld="http://docs.oasis-open.org/ns/energyinterop/201110/payloads"
  xmlns:ei="http://docs.oasis-open.org/ns/energyinterop/201110"
  xmlns:emix="http://docs.oasis-open.org/ns/emix/2011/06"
  xmlns:xcal="urn:ietf:params:xml:ns:icalendar-2.0"
  xmlns:strm="urn:ietf:params:xml:ns:icalendar-2.0:stream">
  <pyld:requestID>req-1</pyld:requestID>
  <ei:vtnID>vtn-main</ei:vtnID>
  <oadr:oadrEvent>
    <oadr:oadrResponseRequired>always</oadr:oadrResponseRequired>
    <ei:eiEvent>
      <ei:eventDescriptor>
        <ei:eventID>evt-1</ei:eventID>
        <ei:modificationNumber>1</ei:modificationNumber>
        <ei:priority>1</ei:priority>
        <ei:eiMarketContext><emix:marketContext>http://market.example/ctx</emix:marketContext></ei:eiMarketContext>
        <ei:eventStatus>active</ei:eventStatus>
        <ei:testEvent>false</ei:testEvent>
      </ei:eventDescriptor>
      <ei:eiActivePeriod>
        <xcal:properties>
          <xcal:dtstart><xcal:date-time>2020-01-01T00:00:00Z</xcal:date-time></xcal:dtstart>
          <xcal:duration><xcal:duration>P100Y</xcal:duration></xcal:duration>
        </xcal:properties>
      </ei:eiActivePeriod>
      <ei:eiEventSignals>
        <ei:eiEventSignal>
          <ei:signalName>simple</ei:signalName>
          <ei:signalType>level</ei:signalType>
          <strm:intervals>
            <ei:interval>
              <xcal:duration><xcal:duration>P100Y</xcal:duration></xcal:duration>
              <xcal:uid><xcal:text>0</xcal:text></xcal:uid>
              <ei:signalPayload><ei:payloadFloat><ei:value>2.5</ei:value></ei:payloadFloat></ei:signalPayload>
            </ei:interval>
          </strm:intervals>
        </ei:eiEventSignal>
      </ei:eiEventSignals>
    </ei:eiEvent>
  </oadr:oadrEvent>
</oadr:oadrDistributeEvent>`

func TestSupervisorEndToEnd(t *testing.T) {
	store := eventstore.NewMemoryStore()

	var mu sync.Mutex
	var lastLevel float64
	onChange := func(old, new float64) {
		mu.Lock()
		defer mu.Unlock()
		lastLevel = new
	}

	sup := New(Config{VenID: "ven-1", ControlInterval: time.Hour}, store, onChange, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	reply, err := sup.HandleBroadcast([]byte(sampleBroadcast))
	if err != nil {
		t.Fatalf("HandleBroadcast: %v", err)
	}
	if !strings.Contains(string(reply), "<responseCode>200</responseCode>") {
		t.Fatalf("expected 200 reply, got:\n%s", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		l := lastLevel
		mu.Unlock()
		if l == 2.5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if lastLevel != 2.5 {
		t.Fatalf("expected signal level 2.5 after nudge, got %v", lastLevel)
	}
}

func TestSupervisorStopIdempotent(t *testing.T) {
	store := eventstore.NewMemoryStore()
	sup := New(Config{VenID: "ven-1"}, store, nil, nil)

	ctx := context.Background()
	sup.Start(ctx)
	sup.Stop()
	sup.Stop()
}

// TestSupervisorSharesScanLock pins down that HandleBroadcast and the
// control loop's scan serialize on the same mutex instance, not two
// independently-locking ones.
func TestSupervisorSharesScanLock(t *testing.T) {
	store := eventstore.NewMemoryStore()
	sup := New(Config{VenID: "ven-1"}, store, nil, nil)

	if sup.Loop.ScanMu == nil {
		t.Fatal("expected Loop.ScanMu to be wired")
	}
	if sup.Loop.ScanMu != sup.mu {
		t.Fatal("expected Loop.ScanMu and Supervisor.mu to be the same lock instance")
	}
}
