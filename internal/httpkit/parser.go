package httpkit

import (
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

type parsePhase int

const (
	phaseStartLine parsePhase = iota
	phaseHeaders
	phaseBody
	phaseChunkSize
	phaseChunkData
	phaseChunkCRLF
	phaseChunkTrailer
	phaseDone
)

// RequestParser incrementally parses an HTTP/1.1 request line-by-line from
// successive byte slices, reporting how much of each slice it consumed.
// Bodies are Content-Length delimited only — request bodies in this stack
// never arrive chunked.
type RequestParser struct {
	phase         parsePhase
	carry         []byte
	req           Request
	contentLength int64
	bodyBuf       bytes.Buffer
	maxBodySize   int64
}

// NewRequestParser creates a parser that rejects bodies larger than
// maxBodySize (0 means unlimited).
func NewRequestParser(maxBodySize int64) *RequestParser {
	return &RequestParser{
		req:         Request{Header: make(http.Header)},
		maxBodySize: maxBodySize,
	}
}

// Finished reports whether a complete request has been parsed.
func (p *RequestParser) Finished() bool { return p.phase == phaseDone }

// Request returns the parsed request. Valid once Finished() is true.
func (p *RequestParser) Request() *Request {
	p.req.Body = p.bodyBuf.Bytes()
	return &p.req
}

// Reset prepares the parser to parse a new request on the same connection,
// the keep-alive loop's pipelining hook.
func (p *RequestParser) Reset() {
	p.phase = phaseStartLine
	p.carry = nil
	p.req = Request{Header: make(http.Header)}
	p.contentLength = 0
	p.bodyBuf.Reset()
}

// Execute feeds data to the parser, returning how many bytes were
// consumed. Unconsumed bytes (a partial next request) must be retained by
// the caller (Session) and re-fed on the next read.
func (p *RequestParser) Execute(data []byte) (consumed int, err error) {
	for {
		switch p.phase {
		case phaseDone:
			return consumed, nil

		case phaseBody:
			remaining := p.contentLength - int64(p.bodyBuf.Len())
			take := int64(len(data))
			if take > remaining {
				take = remaining
			}
			p.bodyBuf.Write(data[:take])
			data = data[take:]
			consumed += int(take)
			if int64(p.bodyBuf.Len()) >= p.contentLength {
				p.phase = phaseDone
				return consumed, nil
			}
			return consumed, nil

		default:
			line, n, ok := takeLine(&p.carry, data)
			if !ok {
				consumed += n
				return consumed, nil
			}
			data = data[n:]
			consumed += n

			if err := p.consumeLine(line); err != nil {
				return consumed, err
			}
		}
	}
}

func (p *RequestParser) consumeLine(line []byte) error {
	switch p.phase {
	case phaseStartLine:
		parts := strings.SplitN(string(line), " ", 3)
		if len(parts) != 3 {
			return fmt.Errorf("httpkit: malformed request line %q", line)
		}
		p.req.Method = parts[0]
		full := parts[1]
		if idx := strings.IndexByte(full, '?'); idx >= 0 {
			p.req.Path, p.req.Query = full[:idx], full[idx+1:]
		} else {
			p.req.Path = full
		}
		p.req.Version = parts[2]
		p.phase = phaseHeaders
		return nil

	case phaseHeaders:
		if len(line) == 0 {
			cl := p.req.Header.Get("Content-Length")
			if cl != "" {
				n, err := strconv.ParseInt(cl, 10, 64)
				if err != nil || n < 0 {
					return fmt.Errorf("httpkit: invalid content-length %q", cl)
				}
				if p.maxBodySize > 0 && n > p.maxBodySize {
					return fmt.Errorf("httpkit: body of %d bytes exceeds the configured maximum", n)
				}
				p.contentLength = n
			}
			if p.contentLength == 0 {
				p.phase = phaseDone
			} else {
				p.phase = phaseBody
			}
			return nil
		}
		return addHeaderLine(p.req.Header, line)

	default:
		return fmt.Errorf("httpkit: parser in unexpected phase %d", p.phase)
	}
}

// ResponseParser incrementally parses an HTTP/1.1 response, including
// chunked transfer-encoded bodies, for the client path.
type ResponseParser struct {
	phase          parsePhase
	carry          []byte
	rsp            Response
	contentLength  int64
	chunked        bool
	chunkRemaining int64 // bytes of chunk data (excluding trailing CRLF) still owed
	bodyBuf        bytes.Buffer
	maxBodySize    int64
}

// NewResponseParser creates a parser that rejects bodies larger than
// maxBodySize (0 means unlimited).
func NewResponseParser(maxBodySize int64) *ResponseParser {
	return &ResponseParser{
		rsp:         Response{Header: make(http.Header)},
		maxBodySize: maxBodySize,
	}
}

// Finished reports whether a complete response has been parsed.
func (p *ResponseParser) Finished() bool { return p.phase == phaseDone }

// Response returns the parsed response. Valid once Finished() is true.
func (p *ResponseParser) Response() *Response {
	p.rsp.Body = p.bodyBuf.Bytes()
	return &p.rsp
}

// Reset prepares the parser for the next response on a pooled connection.
func (p *ResponseParser) Reset() {
	p.phase = phaseStartLine
	p.carry = nil
	p.rsp = Response{Header: make(http.Header)}
	p.contentLength = 0
	p.chunked = false
	p.chunkRemaining = 0
	p.bodyBuf.Reset()
}

// Execute feeds data to the parser, returning how many bytes were consumed.
// Chunk data (a fixed byte count, not line-delimited) is read directly out
// of data rather than through takeLine, mirroring how chunk sizes are
// line-delimited but chunk payloads are not.
func (p *ResponseParser) Execute(data []byte) (consumed int, err error) {
	for {
		switch p.phase {
		case phaseDone:
			return consumed, nil

		case phaseBody:
			remaining := p.contentLength - int64(p.bodyBuf.Len())
			take := int64(len(data))
			if take > remaining {
				take = remaining
			}
			p.bodyBuf.Write(data[:take])
			data = data[take:]
			consumed += int(take)
			if int64(p.bodyBuf.Len()) >= p.contentLength {
				p.phase = phaseDone
			}
			return consumed, nil

		case phaseChunkData:
			take := p.chunkRemaining
			if take > int64(len(data)) {
				take = int64(len(data))
			}
			p.bodyBuf.Write(data[:take])
			data = data[take:]
			consumed += int(take)
			p.chunkRemaining -= take
			if p.chunkRemaining > 0 {
				return consumed, nil
			}
			p.chunkRemaining = 2 // the CRLF trailing every chunk's data
			p.phase = phaseChunkCRLF
			fallthrough

		case phaseChunkCRLF:
			// Consume the two-byte CRLF that terminates every chunk's data,
			// which may itself straddle two Execute calls.
			take := p.chunkRemaining
			if take > int64(len(data)) {
				take = int64(len(data))
			}
			data = data[take:]
			consumed += int(take)
			p.chunkRemaining -= take
			if p.chunkRemaining > 0 {
				return consumed, nil
			}
			p.phase = phaseChunkSize

		default:
			line, n, ok := takeLine(&p.carry, data)
			if !ok {
				consumed += n
				return consumed, nil
			}
			data = data[n:]
			consumed += n

			if err := p.consumeLine(line); err != nil {
				return consumed, err
			}
		}
	}
}

func (p *ResponseParser) consumeLine(line []byte) error {
	switch p.phase {
	case phaseStartLine:
		parts := strings.SplitN(string(line), " ", 3)
		if len(parts) < 2 {
			return fmt.Errorf("httpkit: malformed status line %q", line)
		}
		p.rsp.Version = parts[0]
		status, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("httpkit: invalid status code %q", parts[1])
		}
		p.rsp.Status = status
		if len(parts) == 3 {
			p.rsp.Reason = parts[2]
		}
		p.phase = phaseHeaders
		return nil

	case phaseHeaders:
		if len(line) == 0 {
			return p.finishHeaders()
		}
		return addHeaderLine(p.rsp.Header, line)

	case phaseChunkSize:
		sizeStr := string(line)
		if idx := strings.IndexByte(sizeStr, ';'); idx >= 0 {
			sizeStr = sizeStr[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if err != nil {
			return fmt.Errorf("httpkit: invalid chunk size %q", line)
		}
		if p.maxBodySize > 0 && int64(p.bodyBuf.Len())+size > p.maxBodySize {
			return fmt.Errorf("httpkit: chunked body exceeds the configured maximum")
		}
		if size == 0 {
			p.phase = phaseChunkTrailer
			return nil
		}
		p.chunkRemaining = size
		p.phase = phaseChunkData
		return nil

	case phaseChunkTrailer:
		if len(line) == 0 {
			p.phase = phaseDone
		}
		return nil

	default:
		return fmt.Errorf("httpkit: parser in unexpected phase %d", p.phase)
	}
}

func (p *ResponseParser) finishHeaders() error {
	if strings.EqualFold(p.rsp.Header.Get("Transfer-Encoding"), "chunked") {
		p.chunked = true
		p.phase = phaseChunkSize
		return nil
	}
	cl := p.rsp.Header.Get("Content-Length")
	if cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("httpkit: invalid content-length %q", cl)
		}
		if p.maxBodySize > 0 && n > p.maxBodySize {
			return fmt.Errorf("httpkit: body of %d bytes exceeds the configured maximum", n)
		}
		p.contentLength = n
	}
	if p.contentLength == 0 {
		p.phase = phaseDone
	} else {
		p.phase = phaseBody
	}
	return nil
}

// takeLine extracts one CRLF-terminated line from carry+data without a
// trailing terminator, buffering an incomplete tail in *carry. Returns the
// number of bytes of data consumed and whether a full line was found.
func takeLine(carry *[]byte, data []byte) (line []byte, consumed int, ok bool) {
	combined := data
	if len(*carry) > 0 {
		combined = append(append([]byte(nil), *carry...), data...)
	}

	idx := bytes.Index(combined, []byte("\r\n"))
	if idx < 0 {
		*carry = append((*carry)[:0], combined...)
		return nil, len(data), false
	}

	line = combined[:idx]
	consumedFromCarry := len(*carry)
	*carry = nil

	if consumedFromCarry > 0 {
		// the line (and its terminator) drew from both carry and data;
		// report how much of THIS data slice was used
		usedFromData := idx + 2 - consumedFromCarry
		if usedFromData < 0 {
			usedFromData = 0
		}
		return line, usedFromData, true
	}
	return line, idx + 2, true
}

func addHeaderLine(h http.Header, line []byte) error {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return fmt.Errorf("httpkit: malformed header line %q", line)
	}
	key := textproto.TrimString(string(line[:idx]))
	val := textproto.TrimString(string(line[idx+1:]))
	h.Add(key, val)
	return nil
}
