package gemini

import (
	"errors"
	"fmt"
	"io"
	"net/url"
)

// Status is the parsed form of a Gemini response header line,
// <STATUS><SPACE><META><CR><LF>, where STATUS is two ASCII digits.
type Status struct {
	Primary   int
	Secondary int
	Meta      string
}

// Primary status classes.
const (
	ClassInput               = 1
	ClassSuccess             = 2
	ClassRedirect            = 3
	ClassTemporaryFailure    = 4
	ClassPermanentFailure    = 5
	ClassCertificateRequired = 6
)

func (s Status) Code() int {
	return s.Primary*10 + s.Secondary
}

func (s Status) String() string {
	return fmt.Sprintf("%d%d %s", s.Primary, s.Secondary, s.Meta)
}

// TemporaryFailure is the reason attached to a 4x response.
type TemporaryFailure int

const (
	TemporaryUnspecified TemporaryFailure = iota
	TemporaryServerUnavailable
	TemporaryCGIError
	TemporaryProxyError
	TemporarySlowDown
)

func (t TemporaryFailure) String() string {
	switch t {
	case TemporaryServerUnavailable:
		return "Server Unavailable"
	case TemporaryCGIError:
		return "CGI Error"
	case TemporaryProxyError:
		return "Proxy Error"
	case TemporarySlowDown:
		return "Slow Down"
	}
	return "Temporary Failure"
}

// PermanentFailure is the reason attached to a 5x response.
type PermanentFailure int

const (
	PermanentUnspecified PermanentFailure = iota
	PermanentNotFound
	PermanentGone
	PermanentProxyRequestRequired
	PermanentBadRequest
)

func (p PermanentFailure) String() string {
	switch p {
	case PermanentNotFound:
		return "Not Found"
	case PermanentGone:
		return "Gone"
	case PermanentProxyRequestRequired:
		return "Proxy Request Required"
	case PermanentBadRequest:
		return "Bad Request"
	}
	return "Permanent Failure"
}

// CertificateRejection is the reason attached to a 63, 64 or 65 response.
type CertificateRejection int

const (
	RejectionUnspecified CertificateRejection = iota
	RejectionNotAccepted
	RejectionFutureCertificate
	RejectionExpiredCertificate
)

func (c CertificateRejection) String() string {
	switch c {
	case RejectionNotAccepted:
		return "Certificate not accepted"
	case RejectionFutureCertificate:
		return "Certificate is not yet valid"
	case RejectionExpiredCertificate:
		return "Certificate expired"
	}
	return "Certificate Rejected"
}

// Temporary maps the secondary digit of a 4x status to its reason.
func (s Status) Temporary() TemporaryFailure {
	switch s.Secondary {
	case 1:
		return TemporaryServerUnavailable
	case 2:
		return TemporaryCGIError
	case 3:
		return TemporaryProxyError
	case 4:
		return TemporarySlowDown
	}
	return TemporaryUnspecified
}

// Permanent maps the secondary digit of a 5x status to its reason.
func (s Status) Permanent() PermanentFailure {
	switch s.Secondary {
	case 1:
		return PermanentNotFound
	case 2:
		return PermanentGone
	case 3:
		return PermanentProxyRequestRequired
	case 9:
		return PermanentBadRequest
	}
	return PermanentUnspecified
}

// Rejection maps the secondary digit of a 6x status to a rejection
// reason. Secondary digits 0 and 1 request a transient certificate
// and 2 an authorised one, not rejections; callers check those first.
func (s Status) Rejection() CertificateRejection {
	switch s.Secondary {
	case 3:
		return RejectionNotAccepted
	case 4:
		return RejectionFutureCertificate
	case 5:
		return RejectionExpiredCertificate
	}
	return RejectionUnspecified
}

// ProtocolViolationError reports a malformed response header or an
// otherwise unparseable server reply.
type ProtocolViolationError struct {
	Reason string
}

func (e ProtocolViolationError) Error() string {
	return "gemini: protocol violation: " + e.Reason
}

// IsProtocolViolation reports whether err is a ProtocolViolationError.
func IsProtocolViolation(err error) bool {
	var pv ProtocolViolationError
	return errors.As(err, &pv)
}

// maxHeaderLength bounds the header line: two status digits, one
// space, up to 1024 bytes of meta, CR and LF.
const maxHeaderLength = 1029

// ParseHeader validates a raw header line, including the trailing LF,
// in the order: minimum length, CRLF framing, status digits,
// whitespace separator. Meta is everything between the separator and
// the CR, decoded as UTF-8.
func ParseHeader(line []byte) (s Status, err error) {
	// "XY \r\n" with an empty meta is the shortest well-formed header.
	if len(line) < 5 {
		return s, ProtocolViolationError{Reason: "line is too short for valid protocol"}
	}
	if line[len(line)-1] != '\n' || line[len(line)-2] != '\r' {
		return s, ProtocolViolationError{Reason: "line does not end with <CR> <LF>"}
	}
	if line[0] < '0' || line[0] > '9' {
		return s, ProtocolViolationError{Reason: "first character is not a digit"}
	}
	if line[1] < '0' || line[1] > '9' {
		return s, ProtocolViolationError{Reason: "second character is not a digit"}
	}
	if line[2] != ' ' && line[2] != '\t' {
		return s, ProtocolViolationError{Reason: "third character is not a space"}
	}
	s.Primary = int(line[0] - '0')
	s.Secondary = int(line[1] - '0')
	s.Meta = string(line[3 : len(line)-2])
	return s, nil
}

// readHeader accumulates bytes one at a time until LF, so that no body
// bytes are consumed from the stream, then parses the line.
func readHeader(r io.Reader) (s Status, err error) {
	var line []byte
	buffer := make([]byte, 1)
	for len(line) < maxHeaderLength {
		if _, err = r.Read(buffer); err != nil {
			return s, fmt.Errorf("gemini: failed to read status line: %w", err)
		}
		line = append(line, buffer[0])
		if buffer[0] == '\n' {
			return ParseHeader(line)
		}
	}
	return s, ProtocolViolationError{Reason: "header exceeds maximum length"}
}

// redirectTarget parses the meta of a 3x response and resolves it
// against the request URL.
func redirectTarget(base *url.URL, meta string) (*url.URL, error) {
	target, err := url.Parse(meta)
	if err != nil {
		return nil, ProtocolViolationError{Reason: "invalid URL for redirection"}
	}
	if !target.IsAbs() {
		target = base.ResolveReference(target)
	}
	return target, nil
}
