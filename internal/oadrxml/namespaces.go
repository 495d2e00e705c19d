package oadrxml

// Profile selects which OpenADR 2.0 profile's namespace map a document
// is read/written against. The acceptance pipeline itself is
// namespace-agnostic (Go's encoding/xml matches by local element name),
// but the namespace map still governs which xmlns declarations are
// stamped on outbound replies.
type Profile string

const (
	Profile20A Profile = "2.0a"
	Profile20B Profile = "2.0b"
)

// namespaces mirrors oadr2/schemas.py's NS_A/NS_B constant maps.
var namespaces = map[Profile]map[string]string{
	Profile20A: {
		"oadr": "http://openadr.org/oadr-2.0a/2012/07",
		"pyld": "http://docs.oasis-open.org/ns/energyinterop/201110/payloads",
		"ei":   "http://docs.oasis-open.org/ns/energyinterop/201110",
		"emix": "http://docs.oasis-open.org/ns/emix/2011/06",
		"xcal": "urn:ietf:params:xml:ns:icalendar-2.0",
		"strm": "urn:ietf:params:xml:ns:icalendar-2.0:stream",
	},
	Profile20B: {
		"oadr": "http://openadr.org/oadr-2.0b/2012/07",
		"pyld": "http://docs.oasis-open.org/ns/energyinterop/201110/payloads",
		"ei":   "http://docs.oasis-open.org/ns/energyinterop/201110",
		"emix": "http://docs.oasis-open.org/ns/emix/2011/06",
		"xcal": "urn:ietf:params:xml:ns:icalendar-2.0",
		"strm": "urn:ietf:params:xml:ns:icalendar-2.0:stream",
	},
}

// NamespaceMap returns the prefix->URI map for a profile, defaulting to
// 2.0a for any unrecognized value (matching the Python VEN's
// default/safety fallback in EventHandler.__init__).
func NamespaceMap(p Profile) map[string]string {
	if m, ok := namespaces[p]; ok {
		return m
	}
	return namespaces[Profile20A]
}

// NormalizeProfile validates and defaults a configured profile string.
func NormalizeProfile(s string) Profile {
	switch Profile(s) {
	case Profile20B:
		return Profile20B
	default:
		return Profile20A
	}
}
