package adclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors for pool lifecycle and cancellation conditions.
var (
	// ErrPoolClosed is returned when acquiring from a pool after Close.
	ErrPoolClosed = errors.New("adclient: connection pool is closed")

	// ErrPoolExhausted is returned when the pool is at capacity and no
	// handle was released within the acquire timeout.
	ErrPoolExhausted = errors.New("adclient: connection pool exhausted")

	// ErrOperationCancelled is returned when a caller's context is
	// cancelled while waiting on the pool, the limiter, or a fan-out.
	ErrOperationCancelled = errors.New("adclient: operation cancelled")
)

// ErrorKind is a coarse classification of directory operation failures.
type ErrorKind string

const (
	KindConnect ErrorKind = "connect" // session could not be established
	KindTimeout ErrorKind = "timeout" // operation exceeded its deadline
	KindSearch  ErrorKind = "search"  // malformed filter or server rejection
	KindUnknown ErrorKind = "unknown"
)

// OpError provides structured context for a failed directory operation.
// The core returns these instead of writing logs itself; the calling layer
// decides what to surface.
type OpError struct {
	Op     string    // the operation that failed ("search", "bind", ...)
	Kind   ErrorKind // coarse failure classification
	Filter string    // filter involved, if any
	DN     string    // base or target DN involved, if any
	Err    error     // underlying error
}

func (e *OpError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("adclient: %s failed (%s)", e.Op, e.Kind))
	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("dn: %s", e.DN))
	}
	if e.Filter != "" {
		parts = append(parts, fmt.Sprintf("filter: %s", e.Filter))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " - ")
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// opError wraps err with operation context, classifying its kind from the
// underlying LDAP result code or error text. A nil err returns nil.
func opError(op string, err error) *OpError {
	if err == nil {
		return nil
	}
	if oe := (*OpError)(nil); errors.As(err, &oe) {
		return oe
	}
	return &OpError{
		Op:   op,
		Kind: classifyKind(err),
		Err:  err,
	}
}

// classifyKind maps an underlying error to an ErrorKind.
func classifyKind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case ldap.IsErrorAnyOf(err,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultTimeout):
		return KindTimeout
	case ldap.IsErrorAnyOf(err,
		ldap.ErrorNetwork,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy):
		return KindConnect
	case ldap.IsErrorAnyOf(err,
		ldap.LDAPResultFilterError,
		ldap.LDAPResultProtocolError,
		ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultSizeLimitExceeded,
		ldap.LDAPResultUnwillingToPerform,
		ldap.LDAPResultInsufficientAccessRights):
		return KindSearch
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline"):
		return KindTimeout
	case strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "refused"):
		return KindConnect
	case strings.Contains(errStr, "filter") ||
		strings.Contains(errStr, "search"):
		return KindSearch
	}
	return KindUnknown
}

// isRetryable reports whether a connection-level error is worth one retry
// against a freshly created session. Filter and permission problems will not
// succeed on retry and are excluded.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch classifyKind(err) {
	case KindConnect, KindTimeout:
		return true
	default:
		return false
	}
}

// cancelled converts a context error into the package's cancellation
// sentinel, preserving the original cause for errors.Is inspection.
func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", ErrOperationCancelled, context.Cause(ctx))
}
