package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/chronodle/chronodle/internal/events"
)

const contentColumns = `id, day, month, year, event_type, title, text, extract,
	thumbnail, original_image, desktop_url, mobile_url, external_item_id, external_page_id`

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (events.EventRecord, error) {
	var (
		r          events.EventRecord
		id         string
		eventType  string
		thumb, img *string
	)
	err := row.Scan(&id, &r.Day, &r.Month, &r.Year, &eventType, &r.Title, &r.Text, &r.Extract,
		&thumb, &img, &r.ContentURLs.Desktop, &r.ContentURLs.Mobile,
		&r.WikiMetadata.ExternalItemID, &r.WikiMetadata.ExternalPageID)
	if err != nil {
		return r, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return r, fmt.Errorf("parse content id %q: %w", id, err)
	}
	r.EventType = events.EventType(eventType)
	if r.Thumbnail, err = decodeImage(thumb); err != nil {
		return r, err
	}
	if r.OriginalImage, err = decodeImage(img); err != nil {
		return r, err
	}
	return r, nil
}

// recordArgs returns the insert arguments in contentColumns order.
func recordArgs(r events.EventRecord) ([]any, error) {
	thumb, err := encodeImage(r.Thumbnail)
	if err != nil {
		return nil, err
	}
	img, err := encodeImage(r.OriginalImage)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID.String(), r.Day, r.Month, r.Year, string(r.EventType), r.Title, r.Text, r.Extract,
		thumb, img, r.ContentURLs.Desktop, r.ContentURLs.Mobile,
		r.WikiMetadata.ExternalItemID, r.WikiMetadata.ExternalPageID,
	}, nil
}

func encodeImage(img *events.Image) (*string, error) {
	if img == nil {
		return nil, nil
	}
	raw, err := json.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeImage(raw *string) (*events.Image, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var img events.Image
	if err := json.Unmarshal([]byte(*raw), &img); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &img, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
