package slots

import (
	"strings"
	"time"

	"github.com/teranos/pressline/errors"
)

// DefaultTimezone is the reference zone for golden hours
const DefaultTimezone = "America/New_York"

var timezoneByAbbreviation = map[string]string{
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"et":   "America/New_York",
	"cst":  "America/Chicago",
	"cdt":  "America/Chicago",
	"mst":  "America/Denver",
	"mdt":  "America/Denver",
	"bst":  "Europe/London",
	"cet":  "Europe/Berlin",
	"cest": "Europe/Berlin",
	"ist":  "Asia/Kolkata",
	"sgt":  "Asia/Singapore",
	"aest": "Australia/Sydney",
	"utc":  "UTC",
	"gmt":  "UTC",
}

// NormalizeTimezone resolves config input into a valid IANA zone name.
// Accepts canonical names, wrongly cased names ("america/new_york") and
// common abbreviations ("EST").
func NormalizeTimezone(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("timezone cannot be empty")
	}

	if tz, ok := timezoneByAbbreviation[strings.ToLower(trimmed)]; ok {
		return tz, nil
	}

	if isValidTimezone(trimmed) && !hasIncorrectCapitalization(trimmed) {
		return trimmed, nil
	}

	candidate := sanitizeTimezone(trimmed)
	if isValidTimezone(candidate) {
		return candidate, nil
	}
	if isValidTimezone(trimmed) {
		return trimmed, nil
	}

	return "", errors.Newf("unknown timezone: %s", input)
}

// LoadLocation normalizes and loads a zone, falling back to DefaultTimezone when empty
func LoadLocation(input string) (*time.Location, error) {
	if strings.TrimSpace(input) == "" {
		input = DefaultTimezone
	}
	name, err := NormalizeTimezone(input)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load timezone %s", name)
	}
	return loc, nil
}

func sanitizeTimezone(tz string) string {
	trimmed := strings.Trim(strings.TrimSpace(tz), "\"'")
	trimmed = strings.ReplaceAll(trimmed, " ", "_")
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		words := strings.Split(part, "_")
		for j, w := range words {
			words[j] = title(w)
		}
		parts[i] = strings.Join(words, "_")
	}
	return strings.Join(parts, "/")
}

func title(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func isValidTimezone(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// hasIncorrectCapitalization flags all-lowercase names and segments starting
// lowercase, but leaves names like "America/Port_of_Spain" alone.
func hasIncorrectCapitalization(tz string) bool {
	if tz == "UTC" {
		return false
	}
	if strings.ToLower(tz) == tz {
		return true
	}
	for _, part := range strings.Split(tz, "/") {
		if len(part) > 0 && part[0] >= 'a' && part[0] <= 'z' {
			return true
		}
	}
	return false
}
