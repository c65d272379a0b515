package crawler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// FailureKind classifies why a fetch failed.
type FailureKind string

// Failure kinds. Connection and timeout failures are transient and retried.
const (
	KindConnection FailureKind = "connection_error"
	KindTimeout    FailureKind = "timeout_error"
	KindProtocol   FailureKind = "protocol_error"
	KindUnknown    FailureKind = "unknown_error"
	KindCanceled   FailureKind = "canceled"
)

// Transient reports whether failures of this kind are worth retrying.
func (k FailureKind) Transient() bool {
	return k == KindConnection || k == KindTimeout
}

// FetchError is returned by fetchers for every failed attempt.
type FetchError struct {
	URL        string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with its classified kind.
func NewFetchError(url string, kind FailureKind, statusCode int, err error) *FetchError {
	return &FetchError{URL: url, Kind: kind, StatusCode: statusCode, Err: err}
}

// KindOf extracts the FailureKind carried by err, classifying it when err is
// not already a FetchError.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err)
}

// Classify maps transport errors onto the failure taxonomy.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var (
		dnsErr      *net.DNSError
		opErr       *net.OpError
		recordErr   tls.RecordHeaderError
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.As(err, &recordErr),
		errors.As(err, &certErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidCert):
		return KindConnection
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return KindConnection
	}
	if netErr != nil {
		return KindConnection
	}
	return KindUnknown
}
