// Package validate checks free text sent by clients (chat messages and
// feedback comments) before it is broadcast or stored.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String validation errors
var (
	ErrEmpty             = errors.New("string is empty")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidEncoding   = errors.New("string is not valid UTF-8")
	ErrInvalidCharacters = errors.New("string contains control characters")
)

// MaxFeedbackComment is the longest accepted feedback comment, in runes.
const MaxFeedbackComment = 2000

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MaxLength     int  // Maximum length in runes (0 = no maximum)
	AllowEmpty    bool // Whether empty strings are allowed
	TrimSpace     bool // Whether to trim whitespace before validation
	AllowNewlines bool // Whether \n and \t are accepted
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, c StringConstraints) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidEncoding
	}
	if c.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if !c.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	if n := utf8.RuneCountInString(s); c.MaxLength > 0 && n > c.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, n, c.MaxLength)
	}

	for _, r := range s {
		if c.AllowNewlines && (r == '\n' || r == '\t') {
			continue
		}
		if unicode.IsControl(r) || r == '\u2028' || r == '\u2029' {
			return "", fmt.Errorf("%w: %U", ErrInvalidCharacters, r)
		}
	}
	return s, nil
}

// ChatMessage validates a chat line of at most maxLen runes.
func ChatMessage(text string, maxLen int) (string, error) {
	return String(text, StringConstraints{MaxLength: maxLen, TrimSpace: true})
}

// FeedbackComment validates an optional multi-line feedback comment.
func FeedbackComment(comment string) (string, error) {
	return String(comment, StringConstraints{
		MaxLength:     MaxFeedbackComment,
		AllowEmpty:    true,
		TrimSpace:     true,
		AllowNewlines: true,
	})
}
