package oadrxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/event"
	"github.com/homersoft/oadr2-ven-go/internal/iso8601"
)

// Wire-format structs. Tags match by local element name only — OpenADR
// 2.0a and 2.0b share identical ei:/xcal:/strm: element names, only the
// oadr: root namespace differs, so a single struct set parses both
// profiles without namespace-aware matching.

type distributeEventXML struct {
	XMLName   xml.Name       `xml:"oadrDistributeEvent"`
	RequestID string         `xml:"requestID"`
	VtnID     string         `xml:"vtnID"`
	Events    []oadrEventXML `xml:"oadrEvent"`
}

type oadrEventXML struct {
	ResponseRequired string     `xml:"oadrResponseRequired"`
	EiEvent          eiEventXML `xml:"eiEvent"`
}

type eiEventXML struct {
	Descriptor   eventDescriptorXML `xml:"eventDescriptor"`
	ActivePeriod activePeriodXML    `xml:"eiActivePeriod"`
	Signals      eventSignalsXML    `xml:"eiEventSignals"`
	Target       eiTargetXML        `xml:"eiTarget"`
}

type eventDescriptorXML struct {
	EventID            string `xml:"eventID"`
	ModificationNumber string `xml:"modificationNumber"`
	Priority           string `xml:"priority"`
	MarketContext      string `xml:"eiMarketContext>marketContext"`
	EventStatus        string `xml:"eventStatus"`
	TestEvent          string `xml:"testEvent"`
}

// activePeriodXML captures the strict-grammar path for startafter via
// struct tags, with InnerXML kept around as a fallback for documents
// that nest tolerance/startafter differently (§9 design note: keep an
// XPath-like fallback only for fields outside the strict grammar).
type activePeriodXML struct {
	DtStart    string `xml:"properties>dtstart>date-time"`
	Duration   string `xml:"properties>duration>duration"`
	StartAfter string `xml:"properties>tolerance>tolerate>startafter"`
	InnerXML   []byte `xml:",innerxml"`
}

type eventSignalsXML struct {
	Signals []eventSignalXML `xml:"eiEventSignal"`
}

type eventSignalXML struct {
	SignalName string        `xml:"signalName"`
	SignalType string        `xml:"signalType"`
	Intervals  []intervalXML `xml:"intervals>interval"`
}

type intervalXML struct {
	Duration string `xml:"duration>duration"`
	UID      string `xml:"uid>text"`
	Value    string `xml:"signalPayload>payloadFloat>value"`
}

type eiTargetXML struct {
	VenIDs      []string `xml:"venID"`
	GroupIDs    []string `xml:"groupID"`
	ResourceIDs []string `xml:"resourceID"`
	PartyIDs    []string `xml:"partyID"`
}

// validSimpleSignalTypes mirrors schemas.py's VALID_SIGNAL_TYPES — the
// only signal profile this VEN consumes.
var validSimpleSignalTypes = map[string]bool{
	"level":    true,
	"price":    true,
	"delta":    true,
	"setpoint": true,
}

// Descriptor is a parsed oadrEvent, fields already converted to
// explicit Go types. It is the handoff between the wire codec and the
// ingest acceptance pipeline — nothing downstream touches XML again.
type Descriptor struct {
	ResponseRequired bool

	EventID       string
	ModNumber     int
	Priority      int
	MarketContext string
	Status        event.Status
	TestEvent     bool

	OriginalStart   time.Time
	Duration        time.Duration
	StartAfterBound time.Duration

	Signals []event.Signal
	Target  event.Target
}

// Broadcast is a fully parsed oadrDistributeEvent document.
type Broadcast struct {
	RequestID string
	VtnID     string
	Events    []Descriptor
}

// ParseDistributeEvent decodes an oadrDistributeEvent document. Only
// the top-level envelope (requestID, vtnID) and the per-event shape are
// validated here; field-level problems (bad duration, missing start)
// are reported per-descriptor in the returned []error so the ingest
// pipeline can skip one malformed event and continue the broadcast
// (§7: "Parse/malformed event" is never fatal to the whole broadcast).
func ParseDistributeEvent(data []byte) (*Broadcast, []error, error) {
	var wire distributeEventXML
	if err := xml.Unmarshal(data, &wire); err != nil {
		return nil, nil, fmt.Errorf("oadrxml: malformed oadrDistributeEvent: %w", err)
	}

	b := &Broadcast{RequestID: wire.RequestID, VtnID: wire.VtnID}
	var errs []error

	for i, oe := range wire.Events {
		d, err := convertDescriptor(oe)
		if err != nil {
			errs = append(errs, fmt.Errorf("event[%d]: %w", i, err))
			continue
		}
		b.Events = append(b.Events, d)
	}

	return b, errs, nil
}

func convertDescriptor(oe oadrEventXML) (Descriptor, error) {
	desc := oe.EiEvent.Descriptor

	if desc.EventID == "" {
		return Descriptor{}, fmt.Errorf("missing eventID")
	}

	modNum, err := strconv.Atoi(strings.TrimSpace(desc.ModificationNumber))
	if err != nil {
		return Descriptor{}, fmt.Errorf("malformed modificationNumber %q: %w", desc.ModificationNumber, err)
	}

	priority := 0
	if p := strings.TrimSpace(desc.Priority); p != "" {
		priority, err = strconv.Atoi(p)
		if err != nil {
			return Descriptor{}, fmt.Errorf("malformed priority %q: %w", desc.Priority, err)
		}
	}

	start, err := iso8601.ParseTimestamp(strings.TrimSpace(oe.EiEvent.ActivePeriod.DtStart))
	if err != nil {
		return Descriptor{}, fmt.Errorf("activePeriod dtstart: %w", err)
	}

	duration, err := iso8601.ParseDuration(strings.TrimSpace(oe.EiEvent.ActivePeriod.Duration))
	if err != nil {
		return Descriptor{}, fmt.Errorf("activePeriod duration: %w", err)
	}

	startAfterRaw := strings.TrimSpace(oe.EiEvent.ActivePeriod.StartAfter)
	if startAfterRaw == "" {
		startAfterRaw = scanForElement(oe.EiEvent.ActivePeriod.InnerXML, "startafter")
	}
	startAfter, err := iso8601.ParseDuration(startAfterRaw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("activePeriod startafter: %w", err)
	}

	signals, err := convertSignals(oe.EiEvent.Signals)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		ResponseRequired: strings.EqualFold(strings.TrimSpace(oe.ResponseRequired), "always"),
		EventID:          desc.EventID,
		ModNumber:        modNum,
		Priority:         priority,
		MarketContext:    strings.TrimSpace(desc.MarketContext),
		Status:           event.Status(strings.ToLower(strings.TrimSpace(desc.EventStatus))),
		TestEvent:        parseBool(desc.TestEvent),
		OriginalStart:    start,
		Duration:         duration,
		StartAfterBound:  startAfter,
		Signals:          signals,
		Target: event.Target{
			VenIDs:      oe.EiEvent.Target.VenIDs,
			GroupIDs:    oe.EiEvent.Target.GroupIDs,
			ResourceIDs: oe.EiEvent.Target.ResourceIDs,
			PartyIDs:    oe.EiEvent.Target.PartyIDs,
		},
	}, nil
}

// convertSignals finds the single "simple" signal stream (the only
// profile this VEN consumes, per schemas.py's conformance rule) and
// converts its intervals into event.Signal, ordered by arrival index.
func convertSignals(wire eventSignalsXML) ([]event.Signal, error) {
	var simple *eventSignalXML
	for i := range wire.Signals {
		s := &wire.Signals[i]
		if s.SignalName == "simple" && validSimpleSignalTypes[s.SignalType] {
			simple = s
		}
	}
	if simple == nil {
		return nil, nil
	}

	signals := make([]event.Signal, 0, len(simple.Intervals))
	for i, iv := range simple.Intervals {
		dur, err := iso8601.ParseDuration(strings.TrimSpace(iv.Duration))
		if err != nil {
			return nil, fmt.Errorf("signal interval[%d] duration: %w", i, err)
		}
		level, err := strconv.ParseFloat(strings.TrimSpace(iv.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("signal interval[%d] value: %w", i, err)
		}
		signals = append(signals, event.Signal{Index: i, Duration: dur, Level: level})
	}
	return signals, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s != "" && s != "false"
}

// scanForElement does a narrow, single-pass token scan for the first
// element with local name `name` anywhere in data, returning its
// character data. Used only as a fallback for the handful of fields
// (tolerance/startafter) whose nesting is not stable across OpenADR
// 2.0a/2.0b documents in the wild; every other field is read through
// the strict struct-tag grammar above.
func scanForElement(data []byte, name string) string {
	if len(data) == 0 {
		return ""
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == name {
				var text string
				if err := dec.DecodeElement(&text, &t); err == nil {
					return strings.TrimSpace(text)
				}
				return ""
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
}
