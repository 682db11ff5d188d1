package cache

import (
	"math"
	"strconv"
	"strings"
)

// coordPrecision is the number of decimal places coordinates are rounded to
// before key derivation. Near-identical coordinates (differing past the 4th
// decimal, roughly 11 m) share a cache entry; this trades precision for hit
// rate.
const coordPrecision = 4

// CityKey derives a cache key from a city name and unit system. The city is
// trimmed and lowercased so that equivalent logical requests collide.
func CityKey(category, city, units string) string {
	return category + ":" + strings.ToLower(strings.TrimSpace(city)) + ":" + units
}

// CoordKey derives a cache key from coordinates rounded to coordPrecision
// decimal places.
func CoordKey(category string, lat, lon float64) string {
	return category + ":" + formatCoord(lat) + "," + formatCoord(lon)
}

func formatCoord(v float64) string {
	scale := math.Pow10(coordPrecision)
	return strconv.FormatFloat(math.Round(v*scale)/scale, 'f', coordPrecision, 64)
}
