package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/chronodle/chronodle/internal/events"
)

// staleRetryAfter is the Retry-After hint sent with stale_data responses.
const staleRetryAfter = 2 * time.Second

// APIError is a classified failure ready to be written as an Envelope.
type APIError struct {
	Type      string
	Status    int
	Message   string
	Fields    map[string]string
	RequestID string
	Cause     error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Cause }

// Envelope renders the error body. Client mistakes are "fail", everything else "error".
func (e *APIError) Envelope(now time.Time) Envelope {
	env := Envelope{RequestID: e.RequestID, Timestamp: now.UnixMilli()}
	switch e.Type {
	case ErrTypeValidation, ErrTypeNotFound:
		env.Status = StatusFail
		env.Data = e.Fields
		if len(env.Data) == 0 {
			env.Data = map[string]string{"title": e.Message}
		}
	default:
		env.Status = StatusError
		env.Message = e.Message
		env.Code = e.Type
	}
	return env
}

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	err APIError
}

// NewError creates a new error builder
func NewError(errType string, status int, message string) *ErrorBuilder {
	return &ErrorBuilder{err: APIError{Type: errType, Status: status, Message: message}}
}

// WithField adds a per-field detail.
func (eb *ErrorBuilder) WithField(field, message string) *ErrorBuilder {
	if eb.err.Fields == nil {
		eb.err.Fields = make(map[string]string)
	}
	eb.err.Fields[field] = message
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.err.RequestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	eb.err.Cause = err
	return eb
}

// Build creates the final APIError
func (eb *ErrorBuilder) Build() *APIError {
	e := eb.err
	return &e
}

// Classify maps a service error onto the HTTP taxonomy.
func Classify(err error) *ErrorBuilder {
	var (
		apiErr *APIError
		verr   *events.ValidationError
	)
	switch {
	case errors.As(err, &apiErr):
		return &ErrorBuilder{err: *apiErr}
	case errors.As(err, &verr):
		eb := NewError(ErrTypeValidation, http.StatusBadRequest, "Validation failed").WithCause(err)
		for field, msg := range verr.Fields {
			eb.WithField(field, msg)
		}
		return eb
	case errors.Is(err, events.ErrNotFound):
		return NewError(ErrTypeNotFound, http.StatusNotFound, "No events found").
			WithField("title", "No events found for the requested date, category or ids").
			WithCause(err)
	case errors.Is(err, events.ErrStaleData):
		return NewError(ErrTypeStaleData, http.StatusServiceUnavailable, "Events for this date are being refreshed, retry shortly").
			WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrTypeTimeout, http.StatusGatewayTimeout, "Request timed out").WithCause(err)
	default:
		return NewError(ErrTypeDataRead, http.StatusInternalServerError, "Failed to read event data").WithCause(err)
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger, now: time.Now}
}

// HandleError classifies err, logs it and writes the envelope.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := Classify(err).WithRequestID(middleware.GetReqID(r.Context())).Build()
	eh.logError(r, apiErr)
	eh.writeErrorResponse(w, apiErr)
}

// HandleValidationError reports a single malformed request field.
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	eh.HandleError(w, r, events.NewValidationError(field, message))
}

// logError logs the error with a level chosen by its category
func (eh *ErrorHandler) logError(r *http.Request, apiErr *APIError) {
	category := GetErrorCategory(apiErr.Type)
	level := slog.LevelError
	switch category {
	case CategoryValidation, CategoryNotFound:
		level = slog.LevelWarn
	case CategoryRetryable:
		level = slog.LevelInfo
	}

	attrs := []slog.Attr{
		slog.String("type", apiErr.Type),
		slog.String("category", string(category)),
		slog.Int("status", apiErr.Status),
		slog.String("request_id", apiErr.RequestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_ip", r.RemoteAddr),
	}
	if apiErr.Cause != nil {
		attrs = append(attrs, slog.String("cause", apiErr.Cause.Error()))
	}
	eh.logger.LogAttrs(r.Context(), level, apiErr.Message, attrs...)
}

func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, apiErr *APIError) {
	w.Header().Set("X-Error-Type", apiErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(apiErr.Type)))
	if apiErr.Type == ErrTypeStaleData {
		w.Header().Set("Retry-After", strconv.Itoa(int(staleRetryAfter.Seconds())))
	}
	writeJSON(w, apiErr.Status, apiErr.Envelope(eh.now()))
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())
				eh.logger.Error("panic recovered",
					"request_id", requestID, "path", r.URL.Path, "method", r.Method, "panic", fmt.Sprint(rvr))

				apiErr := NewError(ErrTypeInternal, http.StatusInternalServerError, "Internal server error").
					WithRequestID(requestID).
					Build()
				eh.writeErrorResponse(w, apiErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
