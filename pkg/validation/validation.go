package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

var (
	// ErrInvalidInput indicates the input failed validation
	ErrInvalidInput = errors.New("invalid input")

	// Video ids are URL-safe tokens, 1-64 chars
	videoIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	// Member ids come from the issuance service; allow the characters it uses
	memberIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)
)

// SanitizeString removes potentially dangerous characters and trims whitespace
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters except newline and tab
	var builder strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) || r == '\n' || r == '\t' {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// ValidateVideoID checks an upstream video id before any member is leased
func ValidateVideoID(id string) error {
	id = SanitizeString(id)

	if id == "" {
		return errors.New("video id cannot be empty")
	}
	if !videoIDRegex.MatchString(id) {
		return errors.New("video id must be 1-64 letters, digits, hyphens or underscores")
	}
	return nil
}

func ValidateMemberID(id string) error {
	id = SanitizeString(id)

	if id == "" {
		return errors.New("member id cannot be empty")
	}
	if !memberIDRegex.MatchString(id) {
		return errors.New("member id contains invalid characters")
	}
	return nil
}

// ParseHealthState accepts a health state in any case. Empty input means no
// filter and returns an empty state.
func ParseHealthState(s string) (models.HealthState, error) {
	s = strings.ToUpper(SanitizeString(s))
	if s == "" {
		return "", nil
	}

	state := models.HealthState(s)
	switch state {
	case models.HealthProvisioning, models.HealthHealthy, models.HealthDegraded,
		models.HealthUnhealthy, models.HealthRetiring, models.HealthRemoved:
		return state, nil
	}
	return "", errors.New("unknown health state " + s)
}
