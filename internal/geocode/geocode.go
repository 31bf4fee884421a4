// Package geocode resolves GPS coordinates to place names against an
// offline index of populated places. A compact world dataset is
// compiled in; a full GeoNames cities1000 file can be layered on top
// for finer resolution. Lookups never touch the network.
package geocode

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/logging"
)

// Place is one populated place in the index.
type Place struct {
	Name    string
	Admin1  string
	Country string // ISO 3166-1 alpha-2 code
	Lat     float64
	Lon     float64
}

// Result is a resolved location.
type Result struct {
	City       string
	Country    string
	Address    string
	DistanceKm float64
}

// Geocoder answers nearest-place queries from an in-memory grid of
// one-degree cells. It is immutable after New and safe for concurrent
// use.
type Geocoder struct {
	places []Place
	grid   map[cell][]int32
	logger *slog.Logger
}

// cell addresses one grid bucket: floor(lat) in [-90, 89] and
// floor(lon) normalized to [-180, 179].
type cell struct {
	lat int
	lon int
}

const (
	// maxSearchRadius bounds the ring search in grid cells. Past this
	// radius a match would be open-ocean noise.
	maxSearchRadius = 30

	// extraRings are scanned past the first hit; the nearest place can
	// sit one or two rings beyond the ring that produced a candidate.
	extraRings = 2
)

// New builds the place index. An empty datasetPath uses only the
// embedded dataset; otherwise the named file is loaded on top of it.
func New(datasetPath string) (*Geocoder, error) {
	logger := logging.ForService("geocode")
	if logger == nil {
		logger = slog.Default()
	}

	places, skipped := parsePlaces(strings.NewReader(embeddedPlaces))
	source := "embedded"
	if datasetPath != "" {
		extra, extraSkipped, err := loadPlacesFile(datasetPath)
		if err != nil {
			return nil, err
		}
		places = append(places, extra...)
		skipped += extraSkipped
		source = datasetPath
	}

	g := &Geocoder{
		places: places,
		grid:   buildGrid(places),
		logger: logger,
	}
	g.logger.Info("reverse geocode index ready",
		"places", len(places),
		"source", source,
		"skipped_rows", skipped)
	return g, nil
}

func loadPlacesFile(path string) ([]Place, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.New(err).
			Component("geocode").
			Category(errors.CategoryConfiguration).
			Context("operation", "load-places").
			FileContext(path, 0).
			Build()
	}
	defer f.Close() //nolint:errcheck // read-only handle

	places, skipped := parsePlaces(f)
	return places, skipped, nil
}

func buildGrid(places []Place) map[cell][]int32 {
	grid := make(map[cell][]int32)
	for i, p := range places {
		c := cellOf(p.Lat, p.Lon)
		grid[c] = append(grid[c], int32(i))
	}
	return grid
}

// Size returns the number of indexed places.
func (g *Geocoder) Size() int {
	return len(g.places)
}

// Reverse returns the nearest populated place. The second return is
// false for out-of-range coordinates and for points farther from any
// indexed place than the search radius allows, such as open ocean.
func (g *Geocoder) Reverse(lat, lon float64) (Result, bool) {
	if !validLatLon(lat, lon) || len(g.places) == 0 {
		return Result{}, false
	}

	center := cellOf(lat, lon)
	bestIdx := -1
	bestKm := math.MaxFloat64
	foundAt := -1
	for r := 0; r <= maxSearchRadius; r++ {
		for _, c := range ringCells(center, r) {
			for _, idx := range g.grid[c] {
				p := g.places[idx]
				if d := Haversine(lat, lon, p.Lat, p.Lon); d < bestKm {
					bestKm = d
					bestIdx = int(idx)
				}
			}
		}
		if bestIdx >= 0 {
			if foundAt < 0 {
				foundAt = r
			}
			if r >= foundAt+extraRings {
				break
			}
		}
	}
	if bestIdx < 0 {
		return Result{}, false
	}

	p := g.places[bestIdx]
	return Result{
		City:       p.Name,
		Country:    p.Country,
		Address:    formatAddress(p),
		DistanceKm: bestKm,
	}, true
}

// formatAddress joins the place into a display address, skipping the
// admin region when the dataset has none for it.
func formatAddress(p Place) string {
	if p.Admin1 != "" {
		return fmt.Sprintf("%s, %s, %s", p.Name, p.Admin1, p.Country)
	}
	return fmt.Sprintf("%s, %s", p.Name, p.Country)
}

func cellOf(lat, lon float64) cell {
	la := int(math.Floor(lat))
	if la < -90 {
		la = -90
	}
	if la > 89 {
		la = 89
	}
	lo := int(math.Floor(lon))
	for lo < -180 {
		lo += 360
	}
	for lo >= 180 {
		lo -= 360
	}
	return cell{lat: la, lon: lo}
}

// ringCells returns the cells at Chebyshev distance r from the center,
// wrapping longitude across the antimeridian and clipping latitude at
// the poles.
func ringCells(center cell, r int) []cell {
	if r == 0 {
		return []cell{center}
	}
	cells := make([]cell, 0, 8*r)
	for dLon := -r; dLon <= r; dLon++ {
		appendCell(&cells, center.lat+r, center.lon+dLon)
		appendCell(&cells, center.lat-r, center.lon+dLon)
	}
	for dLat := -r + 1; dLat <= r-1; dLat++ {
		appendCell(&cells, center.lat+dLat, center.lon-r)
		appendCell(&cells, center.lat+dLat, center.lon+r)
	}
	return cells
}

func appendCell(cells *[]cell, la, lo int) {
	if la < -90 || la > 89 {
		return
	}
	for lo < -180 {
		lo += 360
	}
	for lo >= 180 {
		lo -= 360
	}
	*cells = append(*cells, cell{lat: la, lon: lo})
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// EarthRadiusKm is the mean Earth radius used for all distance math.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two points in
// kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}
