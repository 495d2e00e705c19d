package oadrxml

import (
	"encoding/xml"
	"fmt"
)

// ReplyEntry is one per-event acceptance outcome, built by the ingest
// pipeline for events whose descriptor asked for oadrResponseRequired
// == "always" (§4.1 step 11).
type ReplyEntry struct {
	EventID      string
	ModNumber    int
	RequestID    string
	OptType      string // "optIn" or "optOut"
	ResponseCode string // "200", "403", "405", ...
}

type createdEventXML struct {
	XMLName xml.Name          `xml:"oadrCreatedEvent"`
	Xmlns   string            `xml:"xmlns,attr"`
	Body    eiCreatedEventXML `xml:"eiCreatedEvent"`
}

type eiCreatedEventXML struct {
	Response       eiResponseXML      `xml:"eiResponse"`
	EventResponses *eventResponsesXML `xml:"eventResponses,omitempty"`
	VenID          string             `xml:"venID"`
}

type eiResponseXML struct {
	ResponseCode string `xml:"responseCode"`
	RequestID    string `xml:"requestID"`
}

type eventResponsesXML struct {
	Responses []eventResponseXML `xml:"eventResponse"`
}

type eventResponseXML struct {
	ResponseCode     string              `xml:"responseCode"`
	RequestID        string              `xml:"requestID"`
	QualifiedEventID qualifiedEventIDXML `xml:"qualifiedEventID"`
	OptType          string              `xml:"optType"`
}

type qualifiedEventIDXML struct {
	EventID            string `xml:"eventID"`
	ModificationNumber int    `xml:"modificationNumber"`
}

// BuildCreatedEventReply assembles an oadrCreatedEvent document. Per
// §4.1, when entries is non-empty the top-level requestID is left
// empty so the counterparty reads requestID from each event entry
// instead. A nil/empty entries list produces no <eventResponses> at
// all, matching "empty when no event required a response" (§6).
func BuildCreatedEventReply(profile Profile, venID string, entries []ReplyEntry) ([]byte, error) {
	doc := createdEventXML{
		Xmlns: NamespaceMap(profile)["oadr"],
		Body: eiCreatedEventXML{
			Response: eiResponseXML{ResponseCode: "200"},
			VenID:    venID,
		},
	}

	if len(entries) > 0 {
		resp := &eventResponsesXML{Responses: make([]eventResponseXML, 0, len(entries))}
		for _, e := range entries {
			resp.Responses = append(resp.Responses, eventResponseXML{
				ResponseCode: e.ResponseCode,
				RequestID:    e.RequestID,
				QualifiedEventID: qualifiedEventIDXML{
					EventID:            e.EventID,
					ModificationNumber: e.ModNumber,
				},
				OptType: e.OptType,
			})
		}
		doc.Body.EventResponses = resp
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("oadrxml: marshal oadrCreatedEvent: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// BuildErrorReply assembles a broadcast-level rejection (§4.1 step 1:
// unknown VTN ID aborts the whole broadcast with a top-level error).
func BuildErrorReply(profile Profile, venID, code, description string) ([]byte, error) {
	doc := createdEventXML{
		Xmlns: NamespaceMap(profile)["oadr"],
		Body: eiCreatedEventXML{
			Response: eiResponseXML{ResponseCode: code, RequestID: ""},
			VenID:    venID,
		},
	}
	_ = description // carried in logs by the caller; the wire reply has no description field per §6

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("oadrxml: marshal error reply: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
