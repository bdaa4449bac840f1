// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"unicode"
)

// ErrClosed is returned by Next after the stream footer has been consumed.
var ErrClosed = errors.New("stream: closed by peer")

// EventKind distinguishes the outputs of the tokenizer.
type EventKind int

const (
	// HeaderEvent is emitted exactly once per stream, carrying the raw
	// <stream:stream …> open tag.
	HeaderEvent EventKind = iota

	// FragmentEvent carries one complete top level child of the stream
	// element, whitespace inside it preserved verbatim.
	FragmentEvent

	// FooterEvent is emitted when the matching </stream:stream> close tag
	// arrives; the stream is over.
	FooterEvent
)

// Event is a single output of the tokenizer.
type Event struct {
	Kind EventKind
	Text string
}

// An XMPP stream is not a well-formed document delivered end to end; it is an
// indefinitely open root element whose children are appended over time. The
// tokenizer is a small state machine driven character by character over the
// decoded UTF-8 input.
const (
	tokPrologue     = iota // before the first '<'
	tokPrologueLT          // saw '<'; either the XML declaration or the header
	tokDecl                // inside <?xml …?>
	tokHeader              // inside the <stream:stream …> open tag
	tokHeaderQuote         // inside a quoted attribute value of the open tag
	tokScan                // at depth 1, waiting for the next '<'
	tokChildLT             // saw '<' at depth 1; child start or stream close
	tokFragment            // character data inside a fragment
	tokMarkup              // inside a tag of a fragment
	tokMarkupQuote         // inside a quoted attribute value of such a tag
)

// Tokenizer incrementally splits the byte stream into the stream header and
// one fragment per top level child. It maintains a single fragment buffer
// which is reset on every emission.
type Tokenizer struct {
	r     *bufio.Reader
	state int
	depth int
	buf   bytes.Buffer

	quote   rune // active quote delimiter inside markup
	first   bool // next rune is the first after '<'
	closing bool // current markup is an end tag
	slash   bool // previous rune inside markup was '/'
	closed  bool
}

// NewTokenizer returns a tokenizer reading from r.
func NewTokenizer(r io.Reader) *Tokenizer {
	return &Tokenizer{r: bufio.NewReader(r)}
}

// Reset returns the tokenizer to its initial state while keeping the
// underlying reader, so that a restarted stream (after STARTTLS or SASL)
// can be consumed with any already buffered bytes intact.
func (t *Tokenizer) Reset() {
	t.state = tokPrologue
	t.depth = 0
	t.buf.Reset()
	t.closed = false
}

// Next returns the next stream event. It blocks until a whole header,
// fragment, or the footer has been read. After the footer all subsequent
// calls return ErrClosed. Other errors do not close the tokenizer; a further
// call continues reading from where the failed one stopped.
func (t *Tokenizer) Next() (Event, error) {
	if t.closed {
		return Event{}, ErrClosed
	}
	for {
		c, _, err := t.r.ReadRune()
		if err != nil {
			return Event{}, err
		}

		switch t.state {
		case tokPrologue:
			switch {
			case c == '<':
				t.state = tokPrologueLT
			case unicode.IsSpace(c):
			default:
				return Event{}, NotWellFormed
			}

		case tokPrologueLT:
			switch {
			case c == '?':
				t.state = tokDecl
			case c == '/' || c == '!':
				return Event{}, NotWellFormed
			default:
				t.buf.Reset()
				t.buf.WriteByte('<')
				t.buf.WriteRune(c)
				t.state = tokHeader
			}

		case tokDecl:
			if c == '>' {
				t.state = tokPrologue
			}

		case tokHeader:
			t.buf.WriteRune(c)
			switch c {
			case '\'', '"':
				t.quote = c
				t.state = tokHeaderQuote
			case '>':
				t.depth = 1
				t.state = tokScan
				header := t.buf.String()
				t.buf.Reset()
				return Event{Kind: HeaderEvent, Text: header}, nil
			}

		case tokHeaderQuote:
			t.buf.WriteRune(c)
			if c == t.quote {
				t.state = tokHeader
			}

		case tokScan:
			switch {
			case c == '<':
				t.state = tokChildLT
			case unicode.IsSpace(c):
			default:
				return Event{}, NotWellFormed
			}

		case tokChildLT:
			switch {
			case c == '/':
				// The matching close of the stream element: consume the rest
				// of the tag and report the end of the stream.
				for {
					c, _, err = t.r.ReadRune()
					if err != nil {
						return Event{}, err
					}
					if c == '>' {
						break
					}
				}
				t.depth = 0
				t.closed = true
				return Event{Kind: FooterEvent}, nil
			case c == '?' || c == '!':
				return Event{}, RestrictedXML
			default:
				t.buf.Reset()
				t.buf.WriteByte('<')
				t.buf.WriteRune(c)
				t.first = false
				t.closing = false
				t.slash = false
				t.state = tokMarkup
			}

		case tokFragment:
			t.buf.WriteRune(c)
			if c == '<' {
				t.first = true
				t.closing = false
				t.slash = false
				t.state = tokMarkup
			}

		case tokMarkup:
			t.buf.WriteRune(c)
			if t.first {
				t.first = false
				if c == '/' {
					t.closing = true
					continue
				}
			}
			switch c {
			case '\'', '"':
				t.quote = c
				t.state = tokMarkupQuote
			case '>':
				switch {
				case t.closing:
					t.depth--
				case t.slash:
					// Self-closing tag: depth is unchanged.
				default:
					t.depth++
				}
				if t.depth < 1 {
					return Event{}, NotWellFormed
				}
				if t.depth == 1 {
					t.state = tokScan
					fragment := t.buf.String()
					t.buf.Reset()
					return Event{Kind: FragmentEvent, Text: fragment}, nil
				}
				t.state = tokFragment
			}
			t.slash = c == '/'

		case tokMarkupQuote:
			t.buf.WriteRune(c)
			if c == t.quote {
				t.state = tokMarkup
			}
		}
	}
}
