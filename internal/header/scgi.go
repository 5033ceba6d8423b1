package header

import (
	"errors"
	"strconv"
)

// ErrorReason distinguishes why a Parser stopped accepting input, so the
// driver can pick between "SCGI header too large" and "invalid SCGI
// header" per spec.md §8 boundary behavior.
type ErrorReason int

const (
	ErrorNone ErrorReason = iota
	ErrorLimitReached
	ErrorMalformed
)

type parserState int

const (
	stateLength parserState = iota
	stateBody
	stateComma
	stateDone
	stateError
)

// Parser is a streaming reader for the netstring-like request header block
// described in spec.md §6: decimal ASCII length, ':', that many bytes of
// key\0value\0 pairs, ','. Grounded on ScgiRequestParser in
// original_source/.../RequestHandler.h (feed/acceptingInput/getHeaderIterator
// /rebuildData).
type Parser struct {
	maxSize int

	state     parserState
	errReason ErrorReason

	lengthDigits []byte
	length       int

	body    []byte
	bodyLen int

	headerMap *Map
	modified  bool
}

// NewParser returns a Parser that rejects header blocks declaring a length
// greater than maxSize.
func NewParser(maxSize int) *Parser {
	return &Parser{maxSize: maxSize}
}

// Feed consumes as much of data as it can, returning the number of bytes
// consumed. Once AcceptingInput() becomes false, bytes beyond the returned
// count belong to whatever follows the header block (e.g. request body)
// and must not be fed again.
func (p *Parser) Feed(data []byte) int {
	consumed := 0
	for consumed < len(data) {
		switch p.state {
		case stateLength:
			b := data[consumed]
			if b == ':' {
				n, err := strconv.Atoi(string(p.lengthDigits))
				if err != nil || n < 0 || len(p.lengthDigits) == 0 {
					p.fail(ErrorMalformed)
					return consumed + 1
				}
				if n > p.maxSize {
					p.fail(ErrorLimitReached)
					return consumed + 1
				}
				p.length = n
				p.body = make([]byte, 0, n)
				p.state = stateBody
				consumed++
				continue
			}
			if b < '0' || b > '9' {
				p.fail(ErrorMalformed)
				return consumed + 1
			}
			p.lengthDigits = append(p.lengthDigits, b)
			if len(p.lengthDigits) > 10 { // defends against absurd length digit runs
				p.fail(ErrorLimitReached)
				return consumed + 1
			}
			consumed++

		case stateBody:
			need := p.length - len(p.body)
			avail := len(data) - consumed
			take := need
			if avail < take {
				take = avail
			}
			p.body = append(p.body, data[consumed:consumed+take]...)
			consumed += take
			if len(p.body) == p.length {
				p.state = stateComma
			}

		case stateComma:
			if data[consumed] != ',' {
				p.fail(ErrorMalformed)
				return consumed + 1
			}
			consumed++
			if err := p.parseBody(); err != nil {
				p.fail(ErrorMalformed)
				return consumed
			}
			p.state = stateDone

		default:
			return consumed
		}
	}
	return consumed
}

func (p *Parser) fail(reason ErrorReason) {
	p.state = stateError
	p.errReason = reason
}

func (p *Parser) parseBody() error {
	m := NewMap()
	i := 0
	for i < len(p.body) {
		keyEnd := indexByte(p.body[i:], 0)
		if keyEnd < 0 {
			return errors.New("unterminated key")
		}
		key := string(p.body[i : i+keyEnd])
		i += keyEnd + 1
		valEnd := indexByte(p.body[i:], 0)
		if valEnd < 0 {
			return errors.New("unterminated value")
		}
		value := string(p.body[i : i+valEnd])
		i += valEnd + 1
		m.Set(key, value)
	}
	p.headerMap = m
	return nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// AcceptingInput reports whether Feed should still be called.
func (p *Parser) AcceptingInput() bool {
	return p.state == stateLength || p.state == stateBody || p.state == stateComma
}

// HasError reports whether parsing terminated with an error.
func (p *Parser) HasError() bool { return p.state == stateError }

// GetErrorReason reports why parsing failed; meaningless unless HasError.
func (p *Parser) GetErrorReason() ErrorReason { return p.errReason }

// GetMap returns the parsed header map; valid once AcceptingInput is false
// and HasError is false.
func (p *Parser) GetMap() *Map { return p.headerMap }

// GetHeaderData returns the raw key\0value\0... byte block as received
// (without the surrounding length prefix/colon/comma), for byte-exact
// passthrough when the map was not modified.
func (p *Parser) GetHeaderData() []byte { return p.body }

// MarkModified records that the caller mutated the map after parsing, so
// RebuildData knows to reserialize instead of reusing the raw bytes.
func (p *Parser) MarkModified() { p.modified = true }

// RebuildData returns the bytes to send downstream: the original raw block
// if nothing was modified (byte-exact passthrough), or a freshly
// serialized block otherwise. Mirrors ScgiRequestParser::rebuildData.
func (p *Parser) RebuildData(modified bool) []byte {
	if !modified {
		return p.body
	}
	return p.headerMap.Serialize()
}
