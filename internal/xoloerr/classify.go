package xoloerr

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrorChecker decides whether an error returned by a retried operation is
// worth retrying. Catalog and Fleet HTTP clients supply one tuned to their
// transport; callers with no opinion get defaultChecker.
type ErrorChecker interface {
	IsRetryable(err error) bool
}

// defaultChecker treats network/timeout conditions and any Kind other than
// InvalidData/MissingData/Unsupported/AlreadyExists/NotFound as retryable.
type defaultChecker struct{}

func (defaultChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case InvalidData, MissingData, Unsupported, AlreadyExists, NotFound:
		return false
	}
	if isTransientNetworkError(err) || isTimeoutError(err) {
		return true
	}
	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return true
}

// DefaultChecker is the ErrorChecker used when a RetryPolicy specifies none.
var DefaultChecker ErrorChecker = defaultChecker{}

func isTransientNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "i/o timeout", "timed out"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

// Classify buckets err into a short label used as a metrics dimension
// (internal/xolometrics counters keyed by error_type).
func Classify(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}
	if kind := KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return "network"
	default:
		return "unknown"
	}
}
