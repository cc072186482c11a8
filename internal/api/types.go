package api

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Envelope is the body of every /events response. Success carries Item, fail
// carries per-field Data, error carries Message and an optional Code.
type Envelope struct {
	Status    string            `json:"status"`
	Item      any               `json:"item,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Message   string            `json:"message,omitempty"`
	Code      string            `json:"code,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Error types with proper categorization
const (
	ErrTypeValidation = "validation_error"
	ErrTypeNotFound   = "not_found"
	ErrTypeStaleData  = "stale_data"
	ErrTypeDataRead   = "data_read_error"
	ErrTypeTimeout    = "timeout"
	ErrTypeInternal   = "internal_error"
)

// ErrorCategory groups error types for logging.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryRetryable  ErrorCategory = "retryable"
	CategorySystem     ErrorCategory = "system"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeValidation:
		return CategoryValidation
	case ErrTypeNotFound:
		return CategoryNotFound
	case ErrTypeStaleData, ErrTypeTimeout:
		return CategoryRetryable
	default:
		return CategorySystem
	}
}

// VersionInfo contains build information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}
