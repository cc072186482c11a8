package events

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/chronodle/chronodle/internal/wiki"
)

// Transform flattens feed entries into one candidate row per (entry, page) and
// deduplicates them. Output follows first-seen key order.
func Transform(entries []wiki.Entry, date Date, eventType EventType) []EventRecord {
	d := NewDeduper()
	for _, entry := range entries {
		for _, page := range entry.Pages {
			d.Add(recordFromPage(entry, page, date, eventType))
		}
	}
	return d.Records()
}

// TransformFeed runs Transform for every category of the feed.
func TransformFeed(feed *wiki.Feed, date Date) map[EventType][]EventRecord {
	return map[EventType][]EventRecord{
		EventTypeEvent: Transform(feed.Events, date, EventTypeEvent),
		EventTypeBirth: Transform(feed.Births, date, EventTypeBirth),
		EventTypeDeath: Transform(feed.Deaths, date, EventTypeDeath),
	}
}

// recordNamespace scopes the name-based ids derived from DedupKey.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://chronodle.app/events"))

// recordFromPage builds the candidate row for one page of an entry. The id is a
// v5 UUID of the dedup key, so the same event keeps its id across ingestions.
func recordFromPage(entry wiki.Entry, page wiki.Page, date Date, eventType EventType) EventRecord {
	r := EventRecord{
		Day:           date.Day,
		Month:         date.Month,
		Year:          entry.Year,
		EventType:     eventType,
		Title:         page.Titles.Normalized,
		Text:          entry.Text,
		Extract:       page.Extract,
		Thumbnail:     convertImage(page.Thumbnail),
		OriginalImage: convertImage(page.OriginalImage),
		ContentURLs: ContentURLs{
			Desktop: page.ContentURLs.Desktop.Page,
			Mobile:  page.ContentURLs.Mobile.Page,
		},
		WikiMetadata: WikiMetadata{
			ExternalItemID: page.WikibaseItem,
			ExternalPageID: page.PageID,
		},
	}
	r.ID = uuid.NewSHA1(recordNamespace, []byte(DedupKey(r)))
	return r
}

func convertImage(img *wiki.Image) *Image {
	if img == nil || img.Source == "" {
		return nil
	}
	return &Image{Source: img.Source, Width: img.Width, Height: img.Height}
}

// NormalizeWikiURL forces https and drops the query, fragment and trailing slash.
// Host and path case are preserved. Unparseable input only loses its fragment.
func NormalizeWikiURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		before, _, _ := strings.Cut(raw, "#")
		return before
	}
	u.Scheme = "https"
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")
	return u.String()
}

// DedupKey is the identity of a record across ingestions. Records without a
// desktop URL fall back to their title, which merges less reliably.
func DedupKey(r EventRecord) string {
	if u := NormalizeWikiURL(r.ContentURLs.Desktop); u != "" {
		return fmt.Sprintf("%d-%d-%d-%s-%s", r.Day, r.Month, r.Year, r.EventType, u)
	}
	return fmt.Sprintf("%d-%d-%d-%s-title:%s", r.Day, r.Month, r.Year, r.EventType, r.Title)
}

// QualityScore counts the populated enrichment fields.
func QualityScore(r EventRecord) int {
	score := 0
	if r.Thumbnail != nil {
		score++
	}
	if r.OriginalImage != nil {
		score++
	}
	if r.Extract != "" {
		score++
	}
	if r.Title != "" {
		score++
	}
	return score
}

// shouldReplace reports whether candidate beats current for the same key.
func shouldReplace(current, candidate EventRecord) bool {
	cs, ns := QualityScore(current), QualityScore(candidate)
	if ns != cs {
		return ns > cs
	}
	return candidate.OriginalImage != nil && current.OriginalImage == nil
}

// Deduper keeps the richest record per dedup key.
type Deduper struct {
	order []string
	byKey map[string]EventRecord
}

func NewDeduper() *Deduper {
	return &Deduper{byKey: make(map[string]EventRecord)}
}

// Add offers a record and reports whether it is now the retained one for its key.
func (d *Deduper) Add(r EventRecord) bool {
	key := DedupKey(r)
	current, ok := d.byKey[key]
	if !ok {
		d.order = append(d.order, key)
		d.byKey[key] = r
		return true
	}
	if shouldReplace(current, r) {
		d.byKey[key] = r
		return true
	}
	return false
}

// Records returns the retained records in first-seen key order.
func (d *Deduper) Records() []EventRecord {
	out := make([]EventRecord, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, d.byKey[key])
	}
	return out
}

// Len is the number of distinct keys.
func (d *Deduper) Len() int { return len(d.order) }

// MergeCandidates folds incoming into existing under the same replacement rule.
func MergeCandidates(existing, incoming []EventRecord) []EventRecord {
	d := NewDeduper()
	for _, r := range existing {
		d.Add(r)
	}
	for _, r := range incoming {
		d.Add(r)
	}
	return d.Records()
}

// NewRecords returns the candidates whose key is not already stored.
func NewRecords(stored, candidates []EventRecord) []EventRecord {
	seen := make(map[string]struct{}, len(stored))
	for _, r := range stored {
		seen[DedupKey(r)] = struct{}{}
	}
	var out []EventRecord
	for _, r := range candidates {
		key := DedupKey(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
