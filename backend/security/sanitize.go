package security

import (
	"html"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxNameLength    = 50
	MaxEmailLength   = 254
	MaxAddressLength = 200
)

// Reasons reported in InputError.
const (
	ReasonRequired  = "required"
	ReasonTooLong   = "too_long"
	ReasonForbidden = "forbidden_content"
	ReasonFormat    = "invalid_format"
)

var (
	namePattern  = regexp.MustCompile(`^[\p{L}\p{M}][\p{L}\p{M}' .\-]*$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]{6,20}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+'-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// attackMarkers are matched against the lower-cased, decoded value.
var attackMarkers = []string{
	// markup and script
	"<script", "</script", "onerror=", "onload=", "onmouseover=", "javascript:", "vbscript:",
	"<iframe", "<svg", "<img", "<object", "<embed", "data:text/html",
	// sql probes
	"' or '", "' or 1=1", "\" or \"", "'--", "; drop", ";drop", "union select", "/*", "*/", "xp_cmdshell",
	// traversal
	"../", "..\\", "%2e%2e", "%252e",
	"\x00",
}

type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return e.Field + ": " + e.Reason
}

// Sanitizer validates untrusted account fields. Values are rejected, never
// escaped into something "safe".
type Sanitizer struct {
	strip *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{strip: bluemonday.StrictPolicy()}
}

// sqlComment is refused in names and free text. Email local parts may
// legitimately contain it; the quoted form is still caught there.
const sqlComment = "--"

// ContainsAttack reports whether v carries markup, SQL probe or traversal
// sequences, also when URL or HTML-entity encoded.
func ContainsAttack(v string) bool {
	return containsMarker(v, true)
}

func containsMarker(v string, withComment bool) bool {
	for _, candidate := range decodings(v) {
		lower := strings.ToLower(candidate)
		if withComment && strings.Contains(lower, sqlComment) {
			return true
		}
		for _, m := range attackMarkers {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}
	return false
}

func decodings(v string) []string {
	out := []string{v}
	cur := v
	for i := 0; i < 2; i++ {
		dec, err := url.QueryUnescape(cur)
		if err != nil || dec == cur {
			break
		}
		out = append(out, dec)
		cur = dec
	}
	if unescaped := html.UnescapeString(cur); unescaped != cur {
		out = append(out, unescaped)
	}
	return out
}

func hasControl(v string) bool {
	return strings.IndexFunc(v, unicode.IsControl) >= 0
}

// CheckName validates a person name and returns it trimmed.
func (s *Sanitizer) CheckName(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return "", &InputError{Field: field, Reason: ReasonRequired}
	case utf8.RuneCountInString(v) > MaxNameLength:
		return "", &InputError{Field: field, Reason: ReasonTooLong}
	case ContainsAttack(v) || hasControl(v):
		return "", &InputError{Field: field, Reason: ReasonForbidden}
	case !namePattern.MatchString(v):
		return "", &InputError{Field: field, Reason: ReasonFormat}
	}
	return v, nil
}

// CheckEmail validates an address and returns it lower-cased.
func (s *Sanitizer) CheckEmail(v string) (string, error) {
	v = NormalizeEmail(v)
	switch {
	case v == "":
		return "", &InputError{Field: "email", Reason: ReasonRequired}
	case len(v) > MaxEmailLength:
		return "", &InputError{Field: "email", Reason: ReasonTooLong}
	case containsMarker(v, false) || hasControl(v):
		return "", &InputError{Field: "email", Reason: ReasonForbidden}
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v || !emailPattern.MatchString(v) {
		return "", &InputError{Field: "email", Reason: ReasonFormat}
	}
	return v, nil
}

func (s *Sanitizer) CheckPhone(v string) (string, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return "", &InputError{Field: "phone", Reason: ReasonRequired}
	case ContainsAttack(v):
		return "", &InputError{Field: "phone", Reason: ReasonForbidden}
	case !phonePattern.MatchString(v):
		return "", &InputError{Field: "phone", Reason: ReasonFormat}
	}
	return v, nil
}

// CleanText validates optional free text. Empty is allowed. Any markup
// bluemonday would strip makes the value invalid.
func (s *Sanitizer) CleanText(field, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if utf8.RuneCountInString(v) > max {
		return "", &InputError{Field: field, Reason: ReasonTooLong}
	}
	if ContainsAttack(v) || hasControl(v) {
		return "", &InputError{Field: field, Reason: ReasonForbidden}
	}
	if html.UnescapeString(s.strip.Sanitize(v)) != v {
		return "", &InputError{Field: field, Reason: ReasonForbidden}
	}
	return v, nil
}

// NormalizeEmail trims and lower-cases an address for lookups.
func NormalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
