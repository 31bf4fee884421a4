package geocode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/errors"
)

func TestReverseParis(t *testing.T) {
	t.Parallel()

	g, err := New("")
	require.NoError(t, err)

	loc, ok := g.Reverse(48.8566, 2.3522)
	require.True(t, ok)
	assert.Equal(t, "Paris", loc.City)
	assert.Equal(t, "FR", loc.Country)
	assert.Equal(t, "Paris, Île-de-France, FR", loc.Address)
	assert.Less(t, loc.DistanceKm, 1.0)
}

func TestReverseEmbeddedCoversContinents(t *testing.T) {
	t.Parallel()

	g, err := New("")
	require.NoError(t, err)

	cases := []struct {
		name     string
		lat, lon float64
		city     string
	}{
		{"tokyo", 35.6762, 139.6503, "Tokyo"},
		{"new york", 40.7128, -74.0060, "New York"},
		{"sydney", -33.8688, 151.2093, "Sydney"},
		{"nairobi", -1.2921, 36.8219, "Nairobi"},
	}
	for _, tc := range cases {
		loc, ok := g.Reverse(tc.lat, tc.lon)
		require.True(t, ok, tc.name)
		assert.Equal(t, tc.city, loc.City, tc.name)
	}
}

// A point whose grid cell holds a place must still lose to a closer
// place in a neighboring cell.
func TestReversePrefersCloserPlaceAcrossCellBoundary(t *testing.T) {
	t.Parallel()

	g, err := New("")
	require.NoError(t, err)

	// North of Tallinn's cell, on the water between the two cities;
	// Tallinn shares the query cell but Helsinki is closer.
	loc, ok := g.Reverse(59.99, 24.99)
	require.True(t, ok)
	assert.Equal(t, "Helsinki", loc.City)
	assert.Equal(t, "FI", loc.Country)
}

func TestReverseOpenOceanFindsNothing(t *testing.T) {
	t.Parallel()

	g, err := New("")
	require.NoError(t, err)

	// Point Nemo, the oceanic pole of inaccessibility
	_, ok := g.Reverse(-48.87, -123.39)
	assert.False(t, ok)
}

func TestReverseRejectsOutOfRangeCoordinates(t *testing.T) {
	t.Parallel()

	g, err := New("")
	require.NoError(t, err)

	_, ok := g.Reverse(91, 0)
	assert.False(t, ok)
	_, ok = g.Reverse(0, 181)
	assert.False(t, ok)
}

func geoNamesRow(id, name, lat, lon, fclass, cc, admin1 string) string {
	fields := make([]string, 19)
	fields[0] = id
	fields[1] = name
	fields[2] = name
	fields[4] = lat
	fields[5] = lon
	fields[6] = fclass
	fields[7] = "PPL"
	fields[8] = cc
	fields[10] = admin1
	fields[14] = "1000"
	fields[17] = "Etc/UTC"
	fields[18] = "2023-01-01"
	return strings.Join(fields, "\t")
}

func TestLoadGeoNamesDataset(t *testing.T) {
	t.Parallel()

	rows := []string{
		geoNamesRow("1001", "Testville", "0.5", "0.5", "P", "XX", "05"),
		// Closer to the query point but not a populated place
		geoNamesRow("1002", "Testville Station", "0.5", "0.506", "S", "XX", "05"),
		geoNamesRow("1003", "Coast City", "-40.5", "-60.5", "P", "AR", "BA"),
		"garbage line without tabs",
		"Nearville\tWest Region\tYY\t10.5\t10.5",
	}
	path := filepath.Join(t.TempDir(), "places.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(rows, "\n")+"\n"), 0o644))

	embedded, err := New("")
	require.NoError(t, err)
	g, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, embedded.Size()+3, g.Size(),
		"three loadable rows on top of the embedded dataset")

	loc, ok := g.Reverse(0.5, 0.505)
	require.True(t, ok)
	assert.Equal(t, "Testville", loc.City, "non-P rows must not be indexed")
	assert.Equal(t, "Testville, XX", loc.Address, "numeric admin1 codes are dropped")

	loc, ok = g.Reverse(-40.5, -60.5)
	require.True(t, ok)
	assert.Equal(t, "Coast City, BA, AR", loc.Address, "letter admin1 codes read as a region")

	loc, ok = g.Reverse(10.5, 10.5)
	require.True(t, ok)
	assert.Equal(t, "Nearville", loc.City, "compact rows mix with GeoNames rows")
	assert.Equal(t, "Nearville, West Region, YY", loc.Address)
}

func TestNewMissingDatasetFileFails(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing.tsv"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestParsePlacesSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	input := "bad line\nname\tadmin\tCC\tnotanumber\t3\nOkay\tRegion\tZZ\t1.5\t2.5\n"
	places, skipped := parsePlaces(strings.NewReader(input))
	require.Len(t, places, 1)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, "Okay", places[0].Name)
}

func TestParsePlacesRejectsOutOfRangeCoordinates(t *testing.T) {
	t.Parallel()

	places, skipped := parsePlaces(strings.NewReader("Nowhere\t\tZZ\t95.0\t10.0\n"))
	assert.Empty(t, places)
	assert.Equal(t, 1, skipped)
}

func TestHaversine(t *testing.T) {
	t.Parallel()

	// Paris to London
	d := Haversine(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 343.6, d, 1.0)

	assert.Zero(t, Haversine(60.17, 24.94, 60.17, 24.94))

	// Half the equator
	assert.InDelta(t, 20015.1, Haversine(0, 0, 0, 180), 1.0)
}

func TestRingCellsWrapAntimeridianAndClipPoles(t *testing.T) {
	t.Parallel()

	cells := ringCells(cell{lat: 0, lon: -180}, 1)
	require.Len(t, cells, 8)
	for _, c := range cells {
		assert.GreaterOrEqual(t, c.lon, -180)
		assert.Less(t, c.lon, 180)
	}
	assert.Contains(t, cells, cell{lat: 0, lon: 179}, "west neighbors wrap across the antimeridian")

	polar := ringCells(cell{lat: 89, lon: 0}, 1)
	assert.Len(t, polar, 5, "rows past the pole are clipped")
}

func TestReverseNearAntimeridian(t *testing.T) {
	t.Parallel()

	g, err := New("")
	require.NoError(t, err)

	// Suva sits at 178.45 east; a query just across the line must
	// still reach it through wrapped cells.
	loc, ok := g.Reverse(-18.1, -179.9)
	require.True(t, ok)
	assert.Equal(t, "Suva", loc.City)
}
