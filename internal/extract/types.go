package extract

import (
	"fmt"
	"strings"
)

// MaxDescriptionLength caps every candidate description, in characters.
const MaxDescriptionLength = 400

// EventType is the closed set of event labels a record can carry.
type EventType string

const (
	EventFiling      EventType = "Filing"
	EventHearing     EventType = "Hearing"
	EventOrder       EventType = "Order"
	EventAdjournment EventType = "Adjournment"
	EventNotice      EventType = "Notice"
	EventBail        EventType = "Bail"
	EventCharge      EventType = "Charge"
	EventEvidence    EventType = "Evidence"
	EventJudgment    EventType = "Judgment"
	EventApplication EventType = "Application"
	EventService     EventType = "Service"
	EventSettlement  EventType = "Settlement"
	EventLease       EventType = "Lease"
	EventAppeal      EventType = "Appeal"

	// EventGeneric is the fallback label for anything unrecognized.
	EventGeneric EventType = "Event"
)

// EventTypes lists every valid label in a stable order.
var EventTypes = []EventType{
	EventFiling, EventHearing, EventOrder, EventAdjournment, EventNotice,
	EventBail, EventCharge, EventEvidence, EventJudgment, EventApplication,
	EventService, EventSettlement, EventLease, EventAppeal, EventGeneric,
}

// ParseEventType maps a free-form label onto the closed set, case-insensitively.
// Unknown labels map to EventGeneric.
func ParseEventType(s string) EventType {
	s = strings.TrimSpace(s)
	for _, et := range EventTypes {
		if strings.EqualFold(s, string(et)) {
			return et
		}
	}
	return EventGeneric
}

// lookupEventType is ParseEventType without the fallback, for config validation.
func lookupEventType(s string) (EventType, bool) {
	s = strings.TrimSpace(s)
	for _, et := range EventTypes {
		if strings.EqualFold(s, string(et)) {
			return et, true
		}
	}
	return "", false
}

// Origin records which extraction path produced a candidate.
type Origin string

const (
	OriginRule Origin = "rule"
	OriginLLM  Origin = "llm"
)

// Page is one page of collaborator-supplied document text.
type Page struct {
	Number  int
	Text    string
	FromOCR bool // informational only
}

// Chunk is a bounded span of page text with its provenance.
type Chunk struct {
	Text         string
	PageNumber   int
	SectionLabel string // empty when no heading precedes the chunk
	SourcePath   string
	FromOCR      bool
}

// Location renders the display location "p.<page> / <SECTION>" or "p.<page>".
func (c Chunk) Location() string {
	return formatLocation(c.PageNumber, c.SectionLabel)
}

func formatLocation(page int, section string) string {
	if section == "" {
		return fmt.Sprintf("p.%d", page)
	}
	return fmt.Sprintf("p.%d / %s", page, section)
}

// Candidate is an event record produced by either the rule engine or the normalizer.
// Candidates are values and are never mutated once built.
type Candidate struct {
	Date        string    `json:"date,omitempty"`
	EventType   EventType `json:"event_type"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	SourcePath  string    `json:"source_path"`
	PageNumber  int       `json:"page_number"`
	Confidence  float64   `json:"confidence"`
	HasDate     bool      `json:"has_date"`
	HasEvent    bool      `json:"has_event"`
	Origin      Origin    `json:"origin"`
}

// Key is the record identity used for deduplication.
type Key struct {
	SourcePath string
	Date       string
	EventType  EventType
	PageNumber int
}

// Key returns the identity key of c.
func (c Candidate) Key() Key {
	return Key{SourcePath: c.SourcePath, Date: c.Date, EventType: c.EventType, PageNumber: c.PageNumber}
}
