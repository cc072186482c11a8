package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chronodle/chronodle/internal/events"
)

// maxPairs caps the count query parameter.
const maxPairs = 50

// handlePairs serves GET /events/pairs?date=&type=[&count=][&mode=daily].
func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verr := &events.ValidationError{}

	eventType, err := events.ParseEventType(q.Get("type"))
	if err != nil {
		verr.Add("type", "must be one of event, birth, death")
	}
	count, ok := s.parseCount(q.Get("count"))
	if !ok {
		verr.Add("count", "must be an integer between 1 and "+strconv.Itoa(maxPairs))
	}

	daily := q.Get("mode") == "daily"
	var (
		date events.Date
		day  time.Time
	)
	switch raw := q.Get("date"); {
	case daily && raw == "":
		day = s.now()
	case daily:
		if day, err = time.Parse("2006-01-02", raw); err != nil {
			verr.Add("date", "daily mode needs YYYY-MM-DD")
		}
	case raw == "":
		verr.Add("date", "is required")
	default:
		if date, err = events.ParseDate(raw); err != nil {
			verr.Add("date", err.Error())
		}
	}

	if len(verr.Fields) > 0 {
		s.errorHandler.HandleError(w, r, verr)
		return
	}

	var pairs []events.Pair[events.EventPayload]
	if daily {
		pairs, err = s.svc.DailyPairs(r.Context(), day, eventType, count)
	} else {
		pairs, err = s.svc.Pairs(r.Context(), date, eventType, count)
	}
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeSuccess(w, pairs)
}

// handleDetail serves GET /events/detail?ids=a,b.
func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		s.errorHandler.HandleValidationError(w, r, "ids", "is required")
		return
	}
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			s.errorHandler.HandleValidationError(w, r, "ids", "contains an invalid id: "+part)
			return
		}
		ids = append(ids, id)
	}

	details, err := s.svc.Details(r.Context(), ids)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeSuccess(w, details)
}

// handleRandom serves GET /events/random?eventType=&mode=single|multiple[&count=].
// Single mode returns one pair, multiple a list.
func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verr := &events.ValidationError{}

	eventType, err := events.ParseEventType(q.Get("eventType"))
	if err != nil {
		verr.Add("eventType", "must be one of event, birth, death")
	}
	mode := q.Get("mode")
	if mode == "" {
		mode = "single"
	}
	if mode != "single" && mode != "multiple" {
		verr.Add("mode", "must be single or multiple")
	}
	count, ok := s.parseCount(q.Get("count"))
	if !ok {
		verr.Add("count", "must be an integer between 1 and "+strconv.Itoa(maxPairs))
	}
	if len(verr.Fields) > 0 {
		s.errorHandler.HandleError(w, r, verr)
		return
	}

	if mode == "single" {
		count = 1
	}
	pairs, err := s.svc.RandomPairs(r.Context(), eventType, count)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if mode == "single" {
		if len(pairs) == 0 {
			s.errorHandler.HandleError(w, r, events.ErrNotFound)
			return
		}
		s.writeSuccess(w, pairs[0])
		return
	}
	s.writeSuccess(w, pairs)
}

// parseCount defaults to half the cluster size.
func (s *Server) parseCount(raw string) (int, bool) {
	if raw == "" {
		return s.clusterSize / 2, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPairs {
		return 0, false
	}
	return n, true
}
