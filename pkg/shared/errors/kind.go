package errors

import "errors"

// Kind is the fallible-operation error taxonomy. Every operation in the engine
// that can fail returns an error that, if classification is needed, is
// classified into exactly one Kind — and only at the Driver boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindConnectivity
	KindAuthentication
	KindAuthorization
	KindValidation
	KindSecurity
	KindToolExecution
	KindCache
	KindMaxIterationsExceeded
	KindNotFound
	KindExhaustedRetries
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnectivity:
		return "connectivity"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindSecurity:
		return "security"
	case KindToolExecution:
		return "tool_execution"
	case KindCache:
		return "cache"
	case KindMaxIterationsExceeded:
		return "max_iterations_exceeded"
	case KindNotFound:
		return "not_found"
	case KindExhaustedRetries:
		return "exhausted_retries"
	default:
		return "unknown"
	}
}

// CacheSubKind distinguishes the four swallowed cache failure modes.
type CacheSubKind int

const (
	CacheSubKindNone CacheSubKind = iota
	CacheSubKindFull
	CacheSubKindInsufficientTokens
	CacheSubKindCircuitOpen
	CacheSubKindOversize
)

// FactError is the engine's sum-type error: a Kind plus a message plus an
// optional wrapped cause and cache sub-kind. The cache, registry, SQL
// validator, tool executor and LLM clients return it wherever a caller needs
// to know the Kind (the Driver's classification, and ToolExecutor's
// status-code mapping).
type FactError struct {
	Kind     Kind
	CacheSub CacheSubKind
	Message  string
	Cause    error
}

func (e *FactError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *FactError) Unwrap() error {
	return e.Cause
}

// New constructs a FactError of the given kind.
func New(kind Kind, message string) *FactError {
	return &FactError{Kind: kind, Message: message}
}

// WrapKind constructs a FactError of the given kind wrapping cause.
func WrapKind(kind Kind, message string, cause error) *FactError {
	return &FactError{Kind: kind, Message: message, Cause: cause}
}

// NewCacheError constructs a Cache-kind FactError with a sub-kind.
func NewCacheError(sub CacheSubKind, message string) *FactError {
	return &FactError{Kind: KindCache, CacheSub: sub, Message: message}
}

var (
	// ErrCacheFull is returned when the cache cannot evict enough to admit an entry.
	ErrCacheFull = NewCacheError(CacheSubKindFull, "cache full: no eviction candidates")
	// ErrCacheInsufficientTokens is returned when a candidate entry's token_count < MIN_TOKENS.
	ErrCacheInsufficientTokens = NewCacheError(CacheSubKindInsufficientTokens, "insufficient tokens for caching")
	// ErrCacheCircuitOpen is returned by circuitbreaker.Breaker.Call while the
	// breaker is Open or rejects a half-open call; ResilientCache treats it as a miss.
	ErrCacheCircuitOpen = NewCacheError(CacheSubKindCircuitOpen, "circuit breaker open")
	// ErrCacheOversize is returned when an entry's byte_size exceeds MAX_ENTRY_BYTES.
	ErrCacheOversize = NewCacheError(CacheSubKindOversize, "entry exceeds maximum size")
)

// Classify maps an arbitrary error into a Kind. It is used only at the Driver
// boundary: call sites within Cache/ToolExecutor/SqlValidator return errors
// (often already a *FactError) without classifying them themselves.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *FactError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a FactError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FactError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// StatusCode maps an error's Kind to the HTTP-equivalent status code
// ToolExecutor attaches to its ToolResult. Errors that are not a FactError,
// or carry an unlisted Kind, map to 500.
func StatusCode(err error) int {
	if err == nil {
		return 200
	}
	var fe *FactError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case KindNotFound:
			return 404
		case KindValidation:
			return 400
		case KindAuthentication, KindAuthorization:
			return 401
		case KindSecurity:
			return 403
		case KindToolExecution:
			return 500
		case KindCache, KindConnectivity, KindExhaustedRetries:
			return 503
		}
	}
	return 500
}
