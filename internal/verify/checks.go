package verify

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const minNameLength = 3

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidName requires at least three characters once trimmed.
func ValidName(name string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(name)) >= minNameLength
}

// ValidFirm requires at least one letter.
func ValidFirm(firm string) bool {
	return strings.IndexFunc(firm, unicode.IsLetter) >= 0
}

// ValidEmail matches a conventional local@domain.tld address.
func ValidEmail(email string) bool {
	return email != "" && emailPattern.MatchString(email)
}
