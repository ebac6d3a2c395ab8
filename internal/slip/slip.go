// Package slip implements SLIP framing (RFC 1055) for the serial bridge
// link: frames are delimited by END bytes, with END and ESC occurrences in
// the payload escaped.
package slip

import "errors"

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// ErrBadEscape reports an ESC byte followed by anything other than a
// valid escape code, or an ESC dangling at the end of a frame.
var ErrBadEscape = errors.New("slip: invalid escape sequence")

// Encode wraps data in a SLIP frame: END, escaped payload, END.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	out = append(out, End)
	for _, b := range data {
		switch b {
		case End:
			out = append(out, Esc, EscEnd)
		case Esc:
			out = append(out, Esc, EscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, End)
}

// decodeBody unescapes frame payload bytes (no END delimiters).
func decodeBody(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		if body[i] != Esc {
			out = append(out, body[i])
			continue
		}
		i++
		if i == len(body) {
			return nil, ErrBadEscape
		}
		switch body[i] {
		case EscEnd:
			out = append(out, End)
		case EscEsc:
			out = append(out, Esc)
		default:
			return nil, ErrBadEscape
		}
	}
	return out, nil
}

// Decode strips the END delimiters from a single frame and unescapes its
// payload. Leading and trailing END bytes are tolerated; a malformed
// escape sequence is an error rather than being passed through.
func Decode(frame []byte) ([]byte, error) {
	start, end := 0, len(frame)
	for start < end && frame[start] == End {
		start++
	}
	for end > start && frame[end-1] == End {
		end--
	}
	return decodeBody(frame[start:end])
}

// Scanner extracts frames from an incoming byte stream. Bytes outside
// frame delimiters (line noise, empty frames) are discarded.
type Scanner struct {
	buf []byte
}

// Push appends stream bytes to the scanner.
func (s *Scanner) Push(p []byte) {
	s.buf = append(s.buf, p...)
}

// Frame returns the next complete decoded frame, or ok=false when no
// complete frame is buffered yet. A frame with a malformed escape is
// consumed and reported as an error.
func (s *Scanner) Frame() (data []byte, ok bool, err error) {
	// Skip to the first END delimiter.
	start := -1
	for i, b := range s.buf {
		if b == End {
			start = i
			break
		}
	}
	if start == -1 {
		s.buf = s.buf[:0]
		return nil, false, nil
	}

	// Skip empty frames (back to back ENDs act as keepalive padding).
	body := start + 1
	for body < len(s.buf) && s.buf[body] == End {
		body++
	}

	// Find the closing END.
	for i := body; i < len(s.buf); i++ {
		if s.buf[i] != End {
			continue
		}
		data, err = decodeBody(s.buf[body:i])
		s.buf = append(s.buf[:0], s.buf[i+1:]...)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}

	// Incomplete frame: drop the consumed prefix, keep the rest.
	s.buf = append(s.buf[:0], s.buf[body-1:]...)
	return nil, false, nil
}
