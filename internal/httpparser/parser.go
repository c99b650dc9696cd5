// Package httpparser implements the incremental HTTP header parser shared
// by the SSDP datagram decoder and the GENA/SOAP HTTP code paths. It
// buffers input until the blank line that ends the header block, splits
// the start line itself, and reads the headers with net/textproto's MIME
// header reader rather than running a byte-by-byte state machine —
// SSDP/GENA messages are header-only and small enough that buffering the
// whole header block before handing it to bufio is simpler.
package httpparser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

// Mode declares which wire shape the parser should accept.
type Mode int

const (
	Request Mode = iota
	Response
	Both
)

// ErrMalformed is returned by Parse when the buffered bytes can never
// become a valid message (bad start line, broken header fold). The
// parser must be discarded after this error.
var ErrMalformed = errors.New("httpparser: malformed message")

// Parser accumulates bytes across repeated Parse calls until a message's
// headers are complete, then invokes the headers-complete callback.
type Parser struct {
	mode Mode
	buf  bytes.Buffer

	onHeadersComplete func()

	done    bool
	method  string
	target  string
	status  int
	headers http.Header
}

// New creates a Parser for the given mode.
func New(mode Mode) *Parser {
	return &Parser{mode: mode, headers: make(http.Header)}
}

// SetHeadersCompletedCallback installs the callback invoked once headers
// have been fully parsed.
func (p *Parser) SetHeadersCompletedCallback(cb func()) {
	p.onHeadersComplete = cb
}

// Parse feeds more bytes into the parser. It returns the number of bytes
// consumed from data. When the accumulated buffer does not yet contain a
// full header block, Parse consumes everything it was given and returns
// a nil error — callers should feed it more bytes later (e.g. the next
// TCP read, or simply call again with the remainder of a split datagram).
// Once headers are complete, Parse returns len(data) consumed (SSDP/GENA
// callers only care about header-only messages) and invokes the
// callback. A malformed message returns ErrMalformed; the parser must
// then be discarded.
func (p *Parser) Parse(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if p.done {
		return 0, ErrMalformed
	}

	p.buf.Write(data)
	consumed := len(data)

	idx := bytes.Index(p.buf.Bytes(), []byte("\r\n\r\n"))
	if idx == -1 {
		// Guard against an unbounded buffer from a peer that never sends
		// a terminating blank line.
		if p.buf.Len() > 1<<20 {
			return consumed, ErrMalformed
		}
		return consumed, nil
	}

	headerBlock := p.buf.Bytes()[:idx+4]
	if err := p.parseHeaderBlock(headerBlock); err != nil {
		return consumed, err
	}

	p.done = true
	if p.onHeadersComplete != nil {
		p.onHeadersComplete()
	}
	return consumed, nil
}

func (p *Parser) parseHeaderBlock(block []byte) error {
	br := bufio.NewReader(bytes.NewReader(block))
	firstLine, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	firstLine = strings.TrimRight(firstLine, "\r\n")

	isResponse := strings.HasPrefix(firstLine, "HTTP/")
	switch p.mode {
	case Request:
		if isResponse {
			return fmt.Errorf("%w: expected request, got status line", ErrMalformed)
		}
	case Response:
		if !isResponse {
			return fmt.Errorf("%w: expected response, got request line", ErrMalformed)
		}
	case Both:
		// either shape accepted
	}

	if isResponse {
		return p.parseResponse(firstLine, br)
	}
	return p.parseRequest(firstLine, br)
}

func (p *Parser) parseRequest(requestLine string, br *bufio.Reader) error {
	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) != 3 {
		return fmt.Errorf("%w: bad request line %q", ErrMalformed, requestLine)
	}
	p.method = parts[0]
	p.target = parts[1]

	tp := textproto.NewReader(br)
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.headers = http.Header(mimeHeader)
	return nil
}

func (p *Parser) parseResponse(statusLine string, br *bufio.Reader) error {
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("%w: bad status line %q", ErrMalformed, statusLine)
	}
	var status int
	if _, err := fmt.Sscanf(parts[1], "%d", &status); err != nil {
		return fmt.Errorf("%w: bad status code %q", ErrMalformed, parts[1])
	}
	p.status = status

	tp := textproto.NewReader(br)
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.headers = http.Header(mimeHeader)
	return nil
}

// HeadersComplete reports whether a full header block has been parsed.
func (p *Parser) HeadersComplete() bool { return p.done }

// Method returns the request method ("" for a response message).
func (p *Parser) Method() string { return p.method }

// Target returns the request-target ("*" for SSDP messages).
func (p *Parser) Target() string { return p.target }

// Status returns the HTTP status code (0 for a request message).
func (p *Parser) Status() int { return p.status }

// Header looks up a header value case-insensitively, returning "" if
// absent.
func (p *Parser) Header(name string) string {
	return p.headers.Get(name)
}

// Headers returns the full parsed header set.
func (p *Parser) Headers() http.Header { return p.headers }

// Reset clears the parser so it can be reused for a new message — used
// by the SSDP client to service one datagram after another without
// allocating a fresh Parser each time.
func (p *Parser) Reset() {
	p.buf.Reset()
	p.done = false
	p.method = ""
	p.target = ""
	p.status = 0
	p.headers = make(http.Header)
}
