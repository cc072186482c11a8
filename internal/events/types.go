package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the category of an on-this-day entry.
type EventType string

const (
	EventTypeEvent EventType = "event"
	EventTypeBirth EventType = "birth"
	EventTypeDeath EventType = "death"
)

// AllEventTypes lists every category in feed order.
var AllEventTypes = []EventType{EventTypeEvent, EventTypeBirth, EventTypeDeath}

// ParseEventType accepts the singular or plural category name.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "event", "events":
		return EventTypeEvent, nil
	case "birth", "births":
		return EventTypeBirth, nil
	case "death", "deaths":
		return EventTypeDeath, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// FetchStatus is the lock state stored on a DateMetadata row. The empty value is SQL NULL.
type FetchStatus string

const (
	FetchNone         FetchStatus = ""
	FetchOngoing      FetchStatus = "ongoing"
	FetchAvailable    FetchStatus = "available"
	FetchNotAvailable FetchStatus = "not_available"
)

type Image struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ContentURLs struct {
	Desktop string `json:"desktop"`
	Mobile  string `json:"mobile"`
}

type WikiMetadata struct {
	ExternalItemID string `json:"externalItemId"`
	ExternalPageID int64  `json:"externalPageId"`
}

// EventRecord is one stored (page, year) row.
type EventRecord struct {
	ID            uuid.UUID    `json:"id"`
	Day           int          `json:"day"`
	Month         int          `json:"month"`
	Year          int          `json:"year"`
	EventType     EventType    `json:"event_type"`
	Title         string       `json:"title"`
	Text          string       `json:"text"`
	Extract       string       `json:"extract"`
	Thumbnail     *Image       `json:"thumbnail,omitempty"`
	OriginalImage *Image       `json:"original_image,omitempty"`
	ContentURLs   ContentURLs  `json:"content_urls"`
	WikiMetadata  WikiMetadata `json:"wiki_metadata"`
}

// DetailedEvent is the full record handed out after a selection has been made.
type DetailedEvent = EventRecord

// EventPayload is what a player sees before answering. Year and extract are withheld.
type EventPayload struct {
	ID            uuid.UUID    `json:"id"`
	Day           int          `json:"day"`
	Month         int          `json:"month"`
	EventType     EventType    `json:"event_type"`
	Title         string       `json:"title"`
	Text          string       `json:"text"`
	Thumbnail     *Image       `json:"thumbnail,omitempty"`
	OriginalImage *Image       `json:"original_image,omitempty"`
	ContentURLs   ContentURLs  `json:"content_urls"`
	WikiMetadata  WikiMetadata `json:"wiki_metadata"`
}

// Payload strips the fields that would give the answer away.
func (r EventRecord) Payload() EventPayload {
	return EventPayload{
		ID:            r.ID,
		Day:           r.Day,
		Month:         r.Month,
		EventType:     r.EventType,
		Title:         r.Title,
		Text:          r.Text,
		Thumbnail:     r.Thumbnail,
		OriginalImage: r.OriginalImage,
		ContentURLs:   r.ContentURLs,
		WikiMetadata:  r.WikiMetadata,
	}
}

// DateMetadata is the per calendar day row that doubles as the ingestion lock.
type DateMetadata struct {
	Month         int         `json:"month"`
	Day           int         `json:"day"`
	DateString    string      `json:"date_string"`
	LastAPIUpdate int64       `json:"last_api_update"`
	Fetching      FetchStatus `json:"fetching"`
}

// Pair is the unit of one round.
type Pair[T any] struct {
	First  T `json:"first"`
	Second T `json:"second"`
}

// PairUp groups consecutive items. A trailing odd item is dropped.
func PairUp[T any](items []T) []Pair[T] {
	pairs := make([]Pair[T], 0, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		pairs = append(pairs, Pair[T]{First: items[i], Second: items[i+1]})
	}
	return pairs
}

// Date is a calendar day shared across years.
type Date struct {
	Month int
	Day   int
}

var daysInMonth = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// NewDate validates month and day. February 29 is allowed.
func NewDate(month, day int) (Date, error) {
	if month < 1 || month > 12 {
		return Date{}, fmt.Errorf("month %d out of range", month)
	}
	if day < 1 || day > daysInMonth[month] {
		return Date{}, fmt.Errorf("day %d out of range for month %d", day, month)
	}
	return Date{Month: month, Day: day}, nil
}

// ParseDate accepts "MM-DD" or a full "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return DateOf(t), nil
	}
	var month, day int
	if _, err := fmt.Sscanf(s, "%d-%d", &month, &day); err != nil {
		return Date{}, fmt.Errorf("date %q must be MM-DD or YYYY-MM-DD", s)
	}
	return NewDate(month, day)
}

// DateOf returns the calendar day of t.
func DateOf(t time.Time) Date {
	return Date{Month: int(t.Month()), Day: t.Day()}
}

// String renders the date as MM-DD, the form stored in DateMetadata.DateString.
func (d Date) String() string {
	return fmt.Sprintf("%02d-%02d", d.Month, d.Day)
}
