// Package respwriter implements the two output stages of the response
// path: rewriting the worker's response header block into a well-formed
// HTTP response (Rewrite), and rendering a templated error page when the
// worker can't be reached at all (ErrorPage). Grounded on
// processResponseHeader, lookupHeader, and writeErrorResponse in
// original_source/.../RequestHandler.h.
package respwriter

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/hexinfra/passrelay/internal/status"
)

// ErrMissingStatus is returned by Rewrite when the worker's response
// header block has no Status line, per spec.md §4.5 ("Absence of Status
// → error-page response").
var ErrMissingStatus = errors.New("application sent malformed response: it didn't send a Status header")

// locatedHeader holds the byte offsets of a located "Name: value" line within a
// header block, mirroring the Header struct in the original.
type locatedHeader struct {
	valueStart, valueEnd int // offsets of the value within the block (no CRLF)
	lineStart, lineEnd   int // offsets of the whole "Name: value\r\n" line
}

func (h locatedHeader) empty() bool { return h.lineStart == h.lineEnd }

// lookupHeader finds the first line named name (case-sensitive), anchored
// at the start of the block or right after a '\n', followed immediately by
// ':'. Mirrors RequestHandler::lookupHeader exactly, including its
// quirk of skipping false matches mid-line rather than failing outright.
func lookupHeader(block []byte, name string) locatedHeader {
	search := 0
	for search < len(block) {
		pos := bytes.Index(block[search:], []byte(name))
		if pos < 0 {
			return locatedHeader{}
		}
		pos += search
		atLineStart := pos == 0 || block[pos-1] == '\n'
		if atLineStart && len(block) > pos+len(name) && block[pos+len(name)] == ':' {
			valueStart := pos + len(name) + 1
			for valueStart < len(block) && block[valueStart] == ' ' {
				valueStart++
			}
			valueEnd := valueStart
			for valueEnd < len(block) && block[valueEnd] != '\r' {
				valueEnd++
			}
			lineEnd := valueEnd
			if lineEnd+1 < len(block) && block[lineEnd] == '\r' && block[lineEnd+1] == '\n' {
				lineEnd += 2
			}
			return locatedHeader{valueStart: valueStart, valueEnd: valueEnd, lineStart: pos, lineEnd: lineEnd}
		}
		search = pos + len(name) + 1
	}
	return locatedHeader{}
}

// Rewrite turns the worker's buffered response header block into the
// bytes to send the client ahead of the body: an optional "HTTP/1.1 ..."
// status line, the identity header, then the (possibly rewritten) header
// block with a synthesized reason phrase. Returns ErrMissingStatus if no
// Status line is present.
func Rewrite(headerBlock []byte, printStatusLine bool, identityHeader string) ([]byte, error) {
	statusHeader := lookupHeader(headerBlock, "Status")
	if statusHeader.empty() {
		return nil, ErrMissingStatus
	}

	workingBlock := headerBlock
	statusValue := string(headerBlock[statusHeader.valueStart:statusHeader.valueEnd])

	if !bytes.ContainsRune([]byte(statusValue), ' ') {
		code, _ := strconv.Atoi(statusValue)
		newStatusLine := "Status: " + statusValue + " " + status.ReasonPhrase(code) + "\r\n"
		rebuilt := make([]byte, 0, len(headerBlock)+len(newStatusLine))
		rebuilt = append(rebuilt, headerBlock[:statusHeader.lineStart]...)
		rebuilt = append(rebuilt, newStatusLine...)
		rebuilt = append(rebuilt, headerBlock[statusHeader.lineEnd:]...)
		workingBlock = rebuilt
		statusHeader = lookupHeader(workingBlock, "Status")
		statusValue = string(workingBlock[statusHeader.valueStart:statusHeader.valueEnd])
	}

	var prefix []byte
	if printStatusLine {
		prefix = append(prefix, "HTTP/1.1 "...)
		prefix = append(prefix, statusValue...)
		prefix = append(prefix, "\r\n"...)
	}
	prefix = append(prefix, identityHeader...)
	prefix = append(prefix, "\r\n"...)

	out := make([]byte, 0, len(prefix)+len(workingBlock))
	out = append(out, prefix...)
	out = append(out, workingBlock...)
	return out, nil
}
