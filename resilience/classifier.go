package resilience

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// Classifier decides from the outcome of one attempt whether it failed in
// a way worth acting on: retried by Retry, counted by Breaker.
//
// Example classifier that also retries 500:
//
//	cfg.Classifier = func(resp *http.Response, err error) bool {
//	    if resp != nil && resp.StatusCode == http.StatusInternalServerError {
//	        return true
//	    }
//	    return resilience.DefaultRetryClassifier(resp, err)
//	}
type Classifier func(resp *http.Response, err error) bool

// DefaultRetryClassifier applies production-safe retry rules.
//
// Retries on:
//   - transient network errors (timeouts, refused or reset connections)
//   - 429 Too Many Requests
//   - 502, 503 and 504
//
// Does NOT retry on:
//   - other statuses, including 500
//   - context cancellation or deadline
//   - permanent errors (certificate failures, unknown hosts)
func DefaultRetryClassifier(resp *http.Response, err error) bool {
	if err == nil {
		return resp != nil && isRetryableStatusCode(resp.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isPermanentError(err) {
		return false
	}
	return true
}

// DefaultBreakerClassifier counts 5xx statuses and network errors as
// failures. 429 is left to Retry.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

// StatusCodeClassifier retries the given statuses and transient network
// errors.
//
// Example:
//
//	classifier := resilience.StatusCodeClassifier(500, 502, 503, 504)
func StatusCodeClassifier(codes ...int) Classifier {
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return func(resp *http.Response, err error) bool {
		if err != nil {
			return !isPermanentError(err) && isRetryableNetworkError(err)
		}
		if resp == nil {
			return false
		}
		_, ok := set[resp.StatusCode]
		return ok
	}
}

// NeverRetry is a Classifier that never retries.
func NeverRetry(_ *http.Response, _ error) bool { return false }

func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return containsAny(err, "connection refused", "connection reset", "i/o timeout",
		"temporary failure", "server closed", "broken pipe", "eof")
}

func isPermanentError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}
	return containsAny(err, "x509:", "certificate", "tls:", "no route to host", "permission denied")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.EOF)
}

// containsAny matches wrapped errors whose type information was lost.
func containsAny(err error, patterns ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
