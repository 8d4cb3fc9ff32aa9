package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies an [Error]. The set is closed.
type Kind int

const (
	// KindUnknown wraps failures that fit no other kind.
	KindUnknown Kind = iota

	// KindAuthentication is returned for rejected or missing credentials.
	KindAuthentication

	// KindRateLimit is returned when the vendor throttled the request.
	KindRateLimit

	// KindInvalidRequest covers malformed requests and caller errors.
	KindInvalidRequest

	// KindProvider is any other vendor-side failure. Code holds the HTTP
	// status when one is known.
	KindProvider

	// KindNetwork wraps transport failures, including cancellation.
	KindNetwork

	// KindDecoding covers unparsable vendor output and tool arguments.
	KindDecoding

	// KindContextLength is returned when a request exceeds the model window.
	KindContextLength

	// KindUnsupported is returned for features the provider lacks.
	KindUnsupported
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication_failed"
	case KindRateLimit:
		return "rate_limit_exceeded"
	case KindInvalidRequest:
		return "invalid_request"
	case KindProvider:
		return "provider_error"
	case KindNetwork:
		return "network_error"
	case KindDecoding:
		return "decoding_error"
	case KindContextLength:
		return "context_length_exceeded"
	case KindUnsupported:
		return "unsupported_feature"
	default:
		return "unknown"
	}
}

// Error is the structured error returned across the provider boundary.
// Only the fields relevant to Kind are populated.
type Error struct {
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Code is the vendor or HTTP status code for KindProvider.
	Code string

	// RetryAfter is the server-suggested delay for KindRateLimit. Zero means
	// the vendor did not send one.
	RetryAfter time.Duration

	// Requested and Maximum are token counts for KindContextLength.
	Requested int
	Maximum   int

	// Raw is the offending payload for KindDecoding.
	Raw string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for use with errors.Is. Matching compares only the Kind.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrRateLimited    = &Error{Kind: KindRateLimit}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrProvider       = &Error{Kind: KindProvider}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrDecoding       = &Error{Kind: KindDecoding}
	ErrContextLength  = &Error{Kind: KindContextLength}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrUnknown        = &Error{Kind: KindUnknown}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	switch e.Kind {
	case KindAuthentication:
		sb.WriteString("authentication failed")
	case KindRateLimit:
		sb.WriteString("rate limit exceeded")
		if e.RetryAfter > 0 {
			fmt.Fprintf(&sb, " (retry after %s)", e.RetryAfter)
		}
	case KindInvalidRequest:
		sb.WriteString("invalid request")
	case KindProvider:
		sb.WriteString("provider error")
		if e.Code != "" {
			fmt.Fprintf(&sb, " (code %s)", e.Code)
		}
	case KindNetwork:
		sb.WriteString("network error")
	case KindDecoding:
		sb.WriteString("decoding error")
	case KindContextLength:
		fmt.Fprintf(&sb, "context length exceeded: requested %d tokens, maximum %d", e.Requested, e.Maximum)
	case KindUnsupported:
		sb.WriteString("unsupported feature")
	default:
		sb.WriteString("unknown error")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	} else if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AuthenticationError reports rejected credentials.
func AuthenticationError(msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

// RateLimitError reports vendor throttling. retryAfter may be zero.
func RateLimitError(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, RetryAfter: retryAfter}
}

// InvalidRequestError reports a malformed request or caller error.
func InvalidRequestError(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

// ProviderError reports a vendor failure. code may be empty.
func ProviderError(msg, code string) *Error {
	return &Error{Kind: KindProvider, Message: msg, Code: code}
}

// NetworkError wraps a transport failure.
func NetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

// DecodingError reports unparsable output. raw is the offending payload.
func DecodingError(msg, raw string, err error) *Error {
	return &Error{Kind: KindDecoding, Message: msg, Raw: raw, Err: err}
}

// ContextLengthError reports a request that does not fit the model window.
func ContextLengthError(requested, maximum int) *Error {
	return &Error{Kind: KindContextLength, Requested: requested, Maximum: maximum}
}

// UnsupportedError reports a feature the provider lacks.
func UnsupportedError(msg string) *Error {
	return &Error{Kind: KindUnsupported, Message: msg}
}

// UnknownError wraps an unclassified failure.
func UnknownError(err error) *Error {
	return &Error{Kind: KindUnknown, Err: err}
}

// maxErrorBody bounds how much of a failed response body is buffered.
const maxErrorBody = 64 << 10

// ReadErrorBody reads at most 64 KiB from r. Read failures are ignored; the
// bytes read so far are returned.
func ReadErrorBody(r io.Reader) []byte {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return b
}

// ErrorFromResponse maps a non-2xx HTTP response onto the taxonomy:
//
//	401 -> KindAuthentication
//	429 -> KindRateLimit with RetryAfter from the Retry-After header
//	400 -> KindInvalidRequest
//	any other status -> KindProvider with Code set to the status
//
// The message is taken from a vendor error document when body contains one.
func ErrorFromResponse(status int, header http.Header, body []byte) *Error {
	msg := errorMessage(status, body)
	switch status {
	case http.StatusUnauthorized:
		return AuthenticationError(msg)
	case http.StatusTooManyRequests:
		e := RateLimitError(ParseRetryAfter(header.Get("Retry-After")))
		e.Message = msg
		return e
	case http.StatusBadRequest:
		return InvalidRequestError(msg)
	default:
		return ProviderError(msg, strconv.Itoa(status))
	}
}

// MaxRetryAfter caps the delay returned by [ParseRetryAfter].
const MaxRetryAfter = 24 * time.Hour

// ParseRetryAfter parses a Retry-After header given either as delay seconds
// or as an HTTP date. It returns zero for empty, unparsable or non-finite
// values and caps the result at [MaxRetryAfter].
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		switch {
		case math.IsNaN(secs), secs <= 0:
			return 0
		case secs >= MaxRetryAfter.Seconds():
			return MaxRetryAfter
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		return min(max(time.Until(t).Round(time.Second), 0), MaxRetryAfter)
	}
	return 0
}

// errorMessage extracts a message from the common vendor error documents:
// {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func errorMessage(status int, body []byte) string {
	var doc struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &doc) == nil {
		var obj struct {
			Message string `json:"message"`
		}
		if len(doc.Error) > 0 && json.Unmarshal(doc.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if len(doc.Error) > 0 && json.Unmarshal(doc.Error, &s) == nil && s != "" {
			return s
		}
		if doc.Message != "" {
			return doc.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
