package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/papergraph-backend/internal/pkg/httpx"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind is the stable failure code carried by every classified fault.
type Kind string

const (
	KindTransport          Kind = "transport"
	KindProviderRefused    Kind = "provider_refused"
	KindSchemaInvalid      Kind = "schema_invalid"
	KindTruncated          Kind = "truncated"
	KindValidationRejected Kind = "validation_rejected"
	KindIntegrityViolation Kind = "integrity_violation"
	KindCancelled          Kind = "cancelled"
)

// Fault is a classified failure at a stage or provider boundary. Only
// transport faults are retriable; everything else either degrades, surfaces,
// or aborts.
type Fault struct {
	Kind      Kind
	Op        string
	Err       error
	Retriable bool
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func New(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err, Retriable: kind == KindTransport}
}

func Transport(op string, err error) *Fault {
	return New(KindTransport, op, err)
}

func ProviderRefused(op string, err error) *Fault {
	return New(KindProviderRefused, op, err)
}

func SchemaInvalid(op string, err error) *Fault {
	return New(KindSchemaInvalid, op, err)
}

func Truncated(op string, err error) *Fault {
	return New(KindTruncated, op, err)
}

func IntegrityViolation(op string, err error) *Fault {
	return New(KindIntegrityViolation, op, err)
}

func Cancelled(op string, err error) *Fault {
	return New(KindCancelled, op, err)
}

// Classify wraps a provider or transport error into a Fault at a call
// boundary. Retryable HTTP statuses and timeouts become transport faults;
// other HTTP errors are provider refusals; already-classified faults pass
// through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(op, err)
	}
	if httpx.IsRetryableError(err) {
		return Transport(op, err)
	}
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		return ProviderRefused(op, err)
	}
	return Transport(op, err)
}

// KindOf classifies an arbitrary error into the taxonomy. Unclassifiable
// errors return an empty Kind and are treated as fatal by callers.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	if httpx.IsRetryableError(err) {
		return KindTransport
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetriable reports whether a retry loop may re-issue the failed call.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Retriable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return httpx.IsRetryableError(err)
}
