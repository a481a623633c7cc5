package crawler

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonDigitRe   = regexp.MustCompile(`\D`)
	firstIntRe   = regexp.MustCompile(`\d+`)
)

// NormalizeText collapses whitespace (including thin and non-breaking
// spaces), trims, and upper-cases s. Names and characteristic keys are
// compared in this form.
func NormalizeText(s string) string {
	s = strings.NewReplacer("\u2009", " ", "\u00a0", " ").Replace(s)
	return strings.ToUpper(strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " ")))
}

// Digits strips every non-digit from s and parses the rest.
func Digits(s string) (int, bool) {
	d := nonDigitRe.ReplaceAllString(s, "")
	if d == "" {
		return 0, false
	}
	n, err := strconv.Atoi(d)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FirstInt parses the first run of digits in s.
func FirstInt(s string) (int, bool) {
	m := firstIntRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParsePrice parses a price such as "1 250,50 тг".
func ParsePrice(s string) (float64, bool) {
	s = strings.NewReplacer("тг", "", "₸", "", "\u00a0", "", "\u2009", "", " ", "", ",", ".").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
