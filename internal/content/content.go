package content

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"poputka/internal/models"
)

// MaxLength is the longest message body the server accepts, in runes.
const MaxLength = 4000

var (
	policy  = bluemonday.StrictPolicy()
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

	ErrTooLong = fmt.Errorf("%w: message is longer than %d characters", models.ErrValidation, MaxLength)
)

// Validate checks a message body before it is sent or stored.
// Whitespace-only bodies count as empty.
func Validate(body string) error {
	if strings.TrimSpace(body) == "" {
		return models.ErrEmptyContent
	}
	if utf8.RuneCountInString(body) > MaxLength {
		return ErrTooLong
	}
	return nil
}

// Normalize returns body in the form the server persists it: markup
// stripped, entities turned back into characters, surrounding whitespace
// trimmed. Two bodies that normalize equally are stored identically.
func Normalize(body string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(body)))
}

// Sanitize strips all markup from a message body before it is stored.
func Sanitize(input string) string {
	return Normalize(input)
}

// ValidateUserID checks that a participant id is safe to use in thread keys
// and URLs.
func ValidateUserID(id string) error {
	if id == "" {
		return errors.New("user id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("user id contains invalid characters (allowed: alphanumeric, dot, dash)")
	}
	return nil
}
