package sanitize

import "regexp"

// Plain email addresses (case-insensitive)
var reEmail = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)

// Common phone shapes: +xx..., (xxx) xxx-xxxx, 08xx..., etc.
// At least 9 digits total so short numbers in prose are left alone.
var rePhone = regexp.MustCompile(`\+?\d[\d\s\-\.\(\)]{7,}\d`)

// RedactPII strips emails and phone numbers from free text. Used before
// showing anonymous complaints to reviewers so the narrative itself does
// not leak who filed it.
func RedactPII(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, "[redacted email]")
	s = rePhone.ReplaceAllString(s, "[redacted phone]")
	return s
}

// Summary cuts a description down for list views, breaking on a space.
func Summary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	i := max
	for i > 0 && i < len(s) && s[i] != ' ' {
		i--
	}
	if i <= 0 {
		i = max
	}
	return s[:i] + "…"
}
