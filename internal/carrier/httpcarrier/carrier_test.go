package httpcarrier

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/eventstore"
	"github.com/homersoft/oadr2-ven-go/internal/ven"
)

const broadcastXML = `<?xml version="1.0" encoding="UTF-8"?>
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
          <xcal:duration><xcal:duration>PT100H</xcal:duration></xcal:duration>
        </xcal:properties>
      </ei:eiActivePeriod>
      <ei:eiEventSignals>
        <ei:eiEventSignal>
          <ei:signalName>simple</ei:signalName>
          <ei:signalType>level</ei:signalType>
          <strm:intervals>
            <ei:interval>
              <xcal:duration><xcal:duration>PT100H</xcal:duration></xcal:duration>
              <xcal:uid><xcal:text>0</xcal:text></xcal:uid>
              <ei:signalPayload><ei:payloadFloat><ei:value>1.0</ei:value></ei:payloadFloat></ei:signalPayload>
            </ei:interval>
          </strm:intervals>
        </ei:eiEventSignal>
      </ei:eiEventSignals>
    </ei:eiEvent>
  </oadr:oadrEvent>
</oadr:oadrDistributeEvent>`

func newTestCarrier() *Carrier {
	store := eventstore.NewMemoryStore()
	sup := ven.New(ven.Config{VenID: "ven-1", ControlInterval: time.Hour}, store, nil, nil)
	return New(sup, nil)
}

func TestHandleDistributeEventReturns200(t *testing.T) {
	c := newTestCarrier()

	req := httptest.NewRequest(http.MethodPost, "/oadr2/eiEvent", strings.NewReader(broadcastXML))
	rec := httptest.NewRecorder()

	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<responseCode>200</responseCode>") {
		t.Fatalf("expected accepted reply, got:\n%s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
}

func TestHandleDistributeEventRejectsNonPost(t *testing.T) {
	c := newTestCarrier()

	req := httptest.NewRequest(http.MethodGet, "/oadr2/eiEvent", nil)
	rec := httptest.NewRecorder()

	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleDistributeEventBadPayload(t *testing.T) {
	c := newTestCarrier()

	req := httptest.NewRequest(http.MethodPost, "/oadr2/eiEvent", strings.NewReader("not xml"))
	rec := httptest.NewRecorder()

	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
