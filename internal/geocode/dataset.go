package geocode

import (
	"bufio"
	_ "embed"
	"io"
	"strconv"
	"strings"
	"unicode"
)

//go:embed files/places.tsv
var embeddedPlaces string

// geoNamesColumns is the column count of the GeoNames dump format.
// Compact rows carry five columns.
const geoNamesColumns = 19

// maxLineBytes bounds scanner tokens; GeoNames alternate-name columns
// can run to several kilobytes.
const maxLineBytes = 1 << 20

// parsePlaces reads tab-separated place rows and returns the parsed
// places plus the count of rows it had to skip. Two layouts are
// accepted per line: the compact five-column form (name, admin1,
// country code, lat, lon) and the 19-column GeoNames dump format, so a
// downloaded cities1000 file works unmodified. GeoNames rows outside
// feature class P are not populated places and are dropped.
func parsePlaces(r io.Reader) ([]Place, int) {
	var places []Place
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		place, ok := parsePlaceLine(line)
		if !ok {
			skipped++
			continue
		}
		places = append(places, place)
	}
	if err := scanner.Err(); err != nil {
		skipped++
	}

	return places, skipped
}

func parsePlaceLine(line string) (Place, bool) {
	fields := strings.Split(line, "\t")

	var place Place
	switch {
	case len(fields) >= geoNamesColumns:
		if fields[6] != "P" {
			return Place{}, false
		}
		place = Place{
			Name:    strings.TrimSpace(fields[1]),
			Country: strings.TrimSpace(fields[8]),
		}
		// GeoNames admin1 values are codes, numeric in most
		// countries; only letter codes read as part of an address.
		if admin1 := strings.TrimSpace(fields[10]); hasLetter(admin1) {
			place.Admin1 = admin1
		}
		if !parseCoordinates(&place, fields[4], fields[5]) {
			return Place{}, false
		}
	case len(fields) == 5:
		place = Place{
			Name:    strings.TrimSpace(fields[0]),
			Admin1:  strings.TrimSpace(fields[1]),
			Country: strings.TrimSpace(fields[2]),
		}
		if !parseCoordinates(&place, fields[3], fields[4]) {
			return Place{}, false
		}
	default:
		return Place{}, false
	}

	if place.Name == "" || place.Country == "" {
		return Place{}, false
	}
	return place, true
}

func parseCoordinates(place *Place, latField, lonField string) bool {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latField), 64)
	if err != nil {
		return false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonField), 64)
	if err != nil {
		return false
	}
	if !validLatLon(lat, lon) {
		return false
	}
	place.Lat = lat
	place.Lon = lon
	return true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
