package security

import (
	"errors"
	"strings"
	"testing"
)

var attackPayloads = []string{
	"<script>alert('xss')</script>",
	"<SCRIPT SRC=//evil.example/x.js>",
	"<img src=x onerror=alert(1)>",
	"<svg onload=alert(1)>",
	"<iframe src=javascript:alert(1)>",
	"javascript:alert(document.cookie)",
	"' OR '1'='1",
	"admin'--",
	"1; DROP TABLE members",
	"x' UNION SELECT password FROM admins",
	"../../etc/passwd",
	"..\\..\\windows\\win.ini",
	"%2e%2e%2fetc%2fpasswd",
	"%252e%252e%252fetc",
	"&lt;script&gt;alert(1)&lt;/script&gt;",
	"Bob\x00",
}

// RED: Test that every payload is refused in name fields
func TestSanitizer_CheckNameRejectsPayloads(t *testing.T) {
	s := NewSanitizer()
	for _, p := range attackPayloads {
		if v, err := s.CheckName("firstName", p); err == nil {
			t.Errorf("payload %q accepted as %q", p, v)
		}
	}
}

// RED: Test that every payload is refused in free text
func TestSanitizer_CleanTextRejectsPayloads(t *testing.T) {
	s := NewSanitizer()
	for _, p := range attackPayloads {
		if v, err := s.CleanText("address", p, MaxAddressLength); err == nil {
			t.Errorf("payload %q accepted as %q", p, v)
		}
	}
	if _, err := s.CleanText("address", "<b>Main</b> street", MaxAddressLength); err == nil {
		t.Error("markup in free text should be rejected")
	}
}

// RED: Test that realistic values pass
func TestSanitizer_AcceptsRealValues(t *testing.T) {
	s := NewSanitizer()

	for _, name := range []string{"José", "O'Brien", "Anne-Marie", "Jr. Smith", "Zoë"} {
		if _, err := s.CheckName("lastName", name); err != nil {
			t.Errorf("name %q rejected: %v", name, err)
		}
	}
	if got, err := s.CheckEmail("  Guest.Name+tag@Test.COM "); err != nil || got != "guest.name+tag@test.com" {
		t.Errorf("CheckEmail = %q, %v", got, err)
	}
	if _, err := s.CheckPhone("+33 (0)6 12-34-56-78"); err != nil {
		t.Errorf("phone rejected: %v", err)
	}
	if got, err := s.CleanText("address", "12 Rue de l'Église & Co, Apt 4", MaxAddressLength); err != nil || got != "12 Rue de l'Église & Co, Apt 4" {
		t.Errorf("CleanText = %q, %v", got, err)
	}
}

// RED: Test name length limit
func TestSanitizer_NameTooLong(t *testing.T) {
	s := NewSanitizer()
	_, err := s.CheckName("firstName", strings.Repeat("a", MaxNameLength+1))

	var ie *InputError
	if !errors.As(err, &ie) || ie.Reason != ReasonTooLong || ie.Field != "firstName" {
		t.Errorf("expected too_long on firstName, got %v", err)
	}
	if _, err := s.CheckName("firstName", strings.Repeat("a", MaxNameLength)); err != nil {
		t.Errorf("name at the limit should pass: %v", err)
	}
}

// RED: Test malformed emails and phones
func TestSanitizer_FormatErrors(t *testing.T) {
	s := NewSanitizer()
	for _, e := range []string{"", "plain", "a@b", "Name <a@test.com>", "a@@test.com"} {
		if _, err := s.CheckEmail(e); err == nil {
			t.Errorf("email %q should be rejected", e)
		}
	}
	for _, p := range []string{"", "12", "call me", "+1 555 123 4567 890 12 34"} {
		if _, err := s.CheckPhone(p); err == nil {
			t.Errorf("phone %q should be rejected", p)
		}
	}
}

// RED: Test double hyphens are valid in an email but still refused in names
func TestSanitizer_DoubleHyphen(t *testing.T) {
	s := NewSanitizer()

	if got, err := s.CheckEmail("jean--luc@example.com"); err != nil || got != "jean--luc@example.com" {
		t.Errorf("CheckEmail(jean--luc@example.com) = %q, %v", got, err)
	}
	for _, e := range []string{"a'--@example.com", "x'%20or%20'1'='1@example.com", "a/*b@example.com"} {
		if _, err := s.CheckEmail(e); err == nil {
			t.Errorf("email %q should be rejected", e)
		}
	}
	if _, err := s.CheckName("lastName", "Smith--"); err == nil {
		t.Error("name with -- should be rejected")
	}
	if _, err := s.CleanText("address", "Calle Mayor 1 -- DROP", MaxAddressLength); err == nil {
		t.Error("free text with -- should be rejected")
	}
}
