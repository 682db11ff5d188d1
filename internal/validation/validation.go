package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when the city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrCoordinatesOutOfRange is returned when lat/lon fall outside the valid range.
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// ErrInvalidUnits is returned for unit systems other than metric/imperial/standard.
var ErrInvalidUnits = errors.New("invalid unit system")

// maxCityLen bounds city names in runes. OpenWeatherMap city names top out
// well below this.
const maxCityLen = 100

// ValidateCity trims the input, enforces the length bound, and restricts to
// letters (Unicode), digits, space, comma, period, apostrophe, and hyphen.
// Returns the trimmed string or an error suitable for 400 responses.
// Lowercasing is left to cache key derivation.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if len(r) > maxCityLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '.', '\'', '-':
		return true
	}
	return false
}

// ValidateCoordinates checks lat in [-90, 90] and lon in [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrCoordinatesOutOfRange
	}
	return nil
}

// ValidateUnits normalizes and checks the unit system. Empty defaults to metric.
func ValidateUnits(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "":
		return "metric", nil
	case "metric", "imperial", "standard":
		return s, nil
	}
	return "", ErrInvalidUnits
}
