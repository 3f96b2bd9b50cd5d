package netutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// ShouldRetry reports whether err is a transient network failure: a timeout,
// a failed dial, a reset connection or a DNS lookup the resolver marked as
// temporary. A cancelled context is never retried.
func ShouldRetry(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	// *url.Error and *net.OpError both satisfy net.Error and unwrap to it.
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryableStatus reports whether an HTTP status is a transient upstream failure.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusBadGateway && code <= http.StatusGatewayTimeout
}
