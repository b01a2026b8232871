// Package summary turns raw RFC 5322 messages into short notification text.
package summary

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

const (
	// NoSubject replaces an absent Subject header.
	NoSubject = "(no subject)"

	// TruncationMarker is appended on its own line to clipped snippets.
	TruncationMarker = "... (truncated)"
)

// Summary is the human-readable digest of one message.
type Summary struct {
	Subject string
	From    string
	Snippet string
}

// maxDepth bounds multipart nesting.
const maxDepth = 50

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(cs string, input io.Reader) (io.Reader, error) {
		r, err := charset.Reader(cs, input)
		if err != nil {
			// Unknown charset: keep the bytes and let sanitize drop what is not UTF-8.
			return input, nil
		}
		b, _ := io.ReadAll(r)
		return strings.NewReader(dropReplacement(string(b))), nil
	},
}

// Parse extracts subject, sender and body snippet from raw message bytes.
// It never fails; unreadable pieces come back empty.
func Parse(raw []byte, maxChars int) Summary {
	h, body := readMessage(raw)

	mh := mail.Header{Header: message.Header{Header: h}}
	s := Summary{Subject: DecodeSubject(&mh)}
	if mh.Has("From") {
		s.From = decodeHeader(mh.Get("From"))
	}
	s.Snippet = truncate(normalize(readBody(&mh.Header, body)), maxChars)
	return s
}

// DecodeSubject returns the decoded Subject header, or NoSubject when the
// header is absent.
func DecodeSubject(h *mail.Header) string {
	if !h.Has("Subject") {
		return NoSubject
	}
	return decodeHeader(h.Get("Subject"))
}

// decodeHeader decodes RFC 2047 encoded-words (=?charset?encoding?text?=)
// in a header value.
func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return sanitize(v)
	}
	return sanitize(decoded)
}

// ExtractBody returns the normalized, truncated plain-text body of raw.
func ExtractBody(raw []byte, maxChars int) string {
	h, body := readMessage(raw)
	mh := message.Header{Header: h}
	return truncate(normalize(readBody(&mh, body)), maxChars)
}

// readMessage splits raw into header and body. A header line that is neither
// a field nor a continuation ends the header and starts the body.
func readMessage(raw []byte) (textproto.Header, io.Reader) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err == nil {
		return h, br
	}

	br = bufio.NewReader(bytes.NewReader(endHeaderAtBadLine(raw)))
	if fixed, err := textproto.ReadHeader(br); err == nil {
		return fixed, br
	}
	// Keep whatever fields were read before the failure.
	return h, bytes.NewReader(nil)
}

// endHeaderAtBadLine drops continuation lines that open the header, then
// inserts a blank line before the first line of the header block that is
// not a valid field or continuation.
func endHeaderAtBadLine(raw []byte) []byte {
	for len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t') {
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			return nil
		}
		raw = raw[i+1:]
	}

	rest := raw
	for off := 0; len(rest) > 0; {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 {
			return raw
		}
		if !isHeaderLine(trimmed) {
			fixed := make([]byte, 0, len(raw)+2)
			fixed = append(fixed, raw[:off]...)
			fixed = append(fixed, "\r\n"...)
			return append(fixed, raw[off:]...)
		}
		off += len(line)
		rest = rest[len(line):]
	}
	return raw
}

func isHeaderLine(line []byte) bool {
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return false
	}
	for _, c := range bytes.Trim(line[:i], " \t") {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}

// repairContentType drops Content-Type parameters that do not parse, so one
// bad parameter does not lose the boundary or charset.
func repairContentType(h *message.Header) {
	v := h.Get("Content-Type")
	if v == "" {
		return
	}
	if _, _, err := mime.ParseMediaType(v); err == nil {
		return
	}
	segs := strings.Split(v, ";")
	kept := strings.TrimSpace(segs[0])
	if _, _, err := mime.ParseMediaType(kept); err != nil {
		return
	}
	for _, seg := range segs[1:] {
		if _, _, err := mime.ParseMediaType(kept + ";" + seg); err == nil {
			kept += ";" + seg
		}
	}
	h.Set("Content-Type", kept)
}

// readBody returns the single-part payload, or the first inline text/plain
// part of a multipart tree.
func readBody(h *message.Header, body io.Reader) string {
	repairContentType(h)
	if mediaType, _, _ := h.ContentType(); !strings.HasPrefix(mediaType, "multipart/") {
		return decodeText(h, body)
	}
	text, _ := firstPlainText(h, body, 0)
	return text
}

func firstPlainText(h *message.Header, body io.Reader, depth int) (string, bool) {
	repairContentType(h)
	mediaType, params, _ := h.ContentType()
	if !strings.HasPrefix(mediaType, "multipart/") {
		if !isInlineText(h) {
			return "", false
		}
		return decodeText(h, body), true
	}
	if depth >= maxDepth {
		return "", false
	}

	mr := textproto.NewMultipartReader(body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err != nil {
			// End of parts, or a malformed tree.
			return "", false
		}
		ph := message.Header{Header: p.Header}
		if text, ok := firstPlainText(&ph, p, depth+1); ok {
			return text, true
		}
	}
}

func isInlineText(h *message.Header) bool {
	mediaType, _, err := h.ContentType()
	if err != nil {
		// ContentType hands back the raw value when it does not parse.
		mediaType, _, _ = strings.Cut(mediaType, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	}
	// RFC 2045: a part without Content-Type is text/plain.
	if mediaType != "" && mediaType != "text/plain" {
		return false
	}
	disp := strings.ToLower(h.Get("Content-Disposition"))
	return !strings.Contains(disp, "attachment")
}

// decodeText undoes the transfer encoding of a leaf part, then converts its
// charset to UTF-8.
func decodeText(h *message.Header, body io.Reader) string {
	plain := h.Copy()
	mediaType, params, err := plain.ContentType()
	cs := params["charset"]
	if err == nil && cs != "" {
		delete(params, "charset")
		plain.SetContentType(mediaType, params)
	}

	// An unknown transfer encoding leaves the body as is.
	entity, _ := message.New(plain, body)
	// A decoding error midway still leaves the bytes read so far.
	b, _ := io.ReadAll(entity.Body)
	return convertCharset(cs, b)
}

func convertCharset(cs string, b []byte) string {
	switch strings.ToLower(strings.TrimSpace(cs)) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return sanitize(string(b))
	}
	r, err := charset.Reader(cs, bytes.NewReader(b))
	if err != nil {
		// Unknown charset: read the bytes as UTF-8.
		return sanitize(string(b))
	}
	out, _ := io.ReadAll(r)
	return dropReplacement(string(out))
}

// sanitize drops invalid UTF-8.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "")
}

// dropReplacement removes the U+FFFD runes a charset decoder emits for bytes
// it cannot map. Only used on decoder output, never on UTF-8 input.
func dropReplacement(s string) string {
	return strings.ReplaceAll(sanitize(s), string(utf8.RuneError), "")
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n\n", "\n")
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars]) + "\n" + TruncationMarker
}
