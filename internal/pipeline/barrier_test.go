package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/datastore"
)

func TestEventName(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		start, end    time.Time
		city, country string
		want          string
	}{
		{
			name:  "short morning burst",
			start: day, end: day.Add(2 * time.Hour),
			want: "May 01, 2024 morning",
		},
		{
			name:  "short afternoon burst",
			start: day.Add(5 * time.Hour), end: day.Add(7 * time.Hour),
			want: "May 01, 2024 afternoon",
		},
		{
			name:  "full day",
			start: day, end: day.Add(10 * time.Hour),
			want: "May 01, 2024",
		},
		{
			name:  "multi day inside one month",
			start: day, end: day.Add(3 * 24 * time.Hour),
			want: "May 01-04, 2024",
		},
		{
			name:  "multi day across a month boundary",
			start: time.Date(2024, 4, 29, 9, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
			want:  "Apr 29 - May 02, 2024",
		},
		{
			name:  "long range",
			start: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC),
			want:  "Mar 10 - May 20, 2024",
		},
		{
			name:  "city and country lead",
			start: day, end: day.Add(2 * time.Hour),
			city: "Helsinki", country: "Finland",
			want: "Helsinki, Finland - May 01, 2024 morning",
		},
		{
			name:  "city without country",
			start: day, end: day.Add(10 * time.Hour),
			city: "Helsinki",
			want: "Helsinki - May 01, 2024",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, eventName(tc.start, tc.end, tc.city, tc.country))
		})
	}
}

func TestDominantCity(t *testing.T) {
	t.Parallel()

	point := func(city, country string) datastore.EventPoint {
		return datastore.EventPoint{City: city, Country: country}
	}

	city, country := dominantCity([]datastore.EventPoint{
		point("Helsinki", "Finland"),
		point("Espoo", "Finland"),
		point("Helsinki", "Finland"),
	})
	assert.Equal(t, "Helsinki", city)
	assert.Equal(t, "Finland", country)

	city, _ = dominantCity([]datastore.EventPoint{
		point("Espoo", "Finland"),
		point("Helsinki", "Finland"),
	})
	assert.Equal(t, "Espoo", city, "ties go to the city seen first")

	city, country = dominantCity([]datastore.EventPoint{point("", ""), point("", "")})
	assert.Empty(t, city)
	assert.Empty(t, country)
}

func TestDraftEventFramesGroup(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	draft := draftEvent([]datastore.EventPoint{
		{ID: 11, DateTaken: base, City: "Helsinki", Country: "Finland"},
		{ID: 12, DateTaken: base.Add(time.Hour)},
		{ID: 13, DateTaken: base.Add(2 * time.Hour), City: "Helsinki", Country: "Finland"},
	})

	assert.Equal(t, base, draft.StartTime)
	assert.Equal(t, base.Add(2*time.Hour), draft.EndTime)
	assert.Equal(t, "Helsinki", draft.City)
	assert.Equal(t, "Finland", draft.Country)
	assert.Equal(t, []uint{11, 12, 13}, draft.PhotoIDs)
	assert.Equal(t, "Helsinki, Finland - May 01, 2024 morning", draft.Name)
}

// seedDatedPhoto adopts a photo and commits capture metadata so it shows
// up as an event point.
func seedDatedPhoto(t *testing.T, ds datastore.Interface, rel string, taken time.Time, lat, lon *float64, city, country string) *datastore.Photo {
	t.Helper()

	photo := adoptPhoto(t, ds, rel)
	require.NoError(t, ds.CommitExif(photo.ID, 1, &datastore.ExifData{
		Width:     640,
		Height:    480,
		DateTaken: &taken,
		Latitude:  lat,
		Longitude: lon,
	}))
	if city != "" {
		require.NoError(t, ds.CommitGeocode(photo.ID, 1, country, city, city+", "+country))
	}
	return photo
}

func TestRebuildEventsGroupsByTimeGap(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	ds := openStore(t, settings)
	p := newTestPipeline(t, settings, ds)

	morning := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	evening := morning.Add(9 * time.Hour)
	for i := range 3 {
		seedDatedPhoto(t, ds, filename("morning", i), morning.Add(time.Duration(i)*time.Minute),
			nil, nil, "Helsinki", "Finland")
		seedDatedPhoto(t, ds, filename("evening", i), evening.Add(time.Duration(i)*time.Minute),
			nil, nil, "", "")
	}

	require.NoError(t, p.rebuildEvents())

	events, err := ds.ListEvents()
	require.NoError(t, err)
	require.Len(t, events, 2, "a nine hour gap must split the day")

	// newest first
	assert.Equal(t, "May 01, 2024 afternoon", events[0].Name)
	assert.Equal(t, int64(3), events[0].PhotoCount)
	assert.Equal(t, "Helsinki, Finland - May 01, 2024 morning", events[1].Name)
	assert.Equal(t, "Helsinki", events[1].City)
}

func TestRebuildEventsSplitsOnLocationJump(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	ds := openStore(t, settings)
	p := newTestPipeline(t, settings, ds)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := range 3 {
		seedDatedPhoto(t, ds, filename("helsinki", i), base.Add(time.Duration(i)*time.Minute),
			f64(60.17+float64(i)*0.001), f64(24.94), "Helsinki", "Finland")
	}
	// one hour later, well inside the time gap, a continent away
	for i := range 3 {
		seedDatedPhoto(t, ds, filename("berlin", i), base.Add(time.Hour+time.Duration(i)*time.Minute),
			f64(52.52), f64(13.40+float64(i)*0.001), "Berlin", "Germany")
	}

	require.NoError(t, p.rebuildEvents())

	events, err := ds.ListEvents()
	require.NoError(t, err)
	require.Len(t, events, 2, "a 1000 km jump must start a new event")
	assert.Equal(t, "Berlin", events[0].City)
	assert.Equal(t, "Helsinki", events[1].City)
}

func TestRebuildEventsMinimumGroupSize(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	ds := openStore(t, settings)
	p := newTestPipeline(t, settings, ds)

	// A pair ten minutes apart, then a lone shot a day later.
	base := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	seedDatedPhoto(t, ds, "paris/a.jpg", base, f64(48.8566), f64(2.3522), "Paris", "France")
	seedDatedPhoto(t, ds, "paris/b.jpg", base.Add(10*time.Minute), nil, nil, "", "")
	seedDatedPhoto(t, ds, "lone/c.jpg", base.Add(24*time.Hour), nil, nil, "", "")

	require.NoError(t, p.rebuildEvents())

	events, err := ds.ListEvents()
	require.NoError(t, err)
	require.Len(t, events, 1, "two photos make an event, a lone shot does not")
	assert.Equal(t, int64(2), events[0].PhotoCount)
	assert.Equal(t, "Paris", events[0].City)
}

func TestRebuildEventsHonorsConfiguredMinimum(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Pipeline.Events.MinPhotos = 3
	ds := openStore(t, settings)
	p := newTestPipeline(t, settings, ds)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	seedDatedPhoto(t, ds, "pair/a.jpg", base, nil, nil, "", "")
	seedDatedPhoto(t, ds, "pair/b.jpg", base.Add(time.Minute), nil, nil, "", "")

	require.NoError(t, p.rebuildEvents())

	events, err := ds.ListEvents()
	require.NoError(t, err)
	assert.Empty(t, events, "a raised minimum keeps pairs out of the event list")
}

func TestRebuildDuplicatesPersistsIndexGroups(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	ds := openStore(t, settings)
	p := newTestPipeline(t, settings, ds)

	a := adoptPhoto(t, ds, "dup/a.jpg")
	b := adoptPhoto(t, ds, "dup/b.jpg")
	adoptPhoto(t, ds, "dup/unrelated.jpg")

	p.dupes.Add(a.ID, 0xF0F0F0F0F0F0F0F0)
	p.dupes.Add(b.ID, 0xF0F0F0F0F0F0F0F1) // one bit apart
	p.dupes.Add(999, 0x0000000000000000)

	require.NoError(t, p.rebuildDuplicates())

	groups, total, err := ds.DuplicateGroups(1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Photos, 2)
}
