// barrier.go: the idle-time batch pass over the whole library
package pipeline

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/geocode"
)

// runBarrier rebuilds the grouped views once the per-file stages have
// drained. Both views are wholesale replacements, so a rebuild is always
// safe to repeat. A failed rebuild is logged and waits for the next
// settle to mark the library dirty again.
func (p *Pipeline) runBarrier() {
	start := time.Now()

	var g errgroup.Group
	g.Go(p.timed("events", p.rebuildEvents))
	g.Go(p.timed("duplicates", p.rebuildDuplicates))
	if err := g.Wait(); err != nil {
		p.logger.Error("batch barrier failed", "error", err)
		return
	}

	p.logger.Info("Batch barrier finished",
		"duration", time.Since(start).Round(time.Millisecond).String())
	p.notify()
}

// timed wraps one barrier computation with its duration metric.
func (p *Pipeline) timed(kind string, fn func() error) func() error {
	return func() error {
		start := time.Now()
		err := fn()
		if p.metrics != nil {
			p.metrics.RecordBarrierDuration(kind, time.Since(start).Seconds())
		}
		return err
	}
}

// rebuildEvents walks the dated photos in capture order and groups them
// greedily: a new event starts on a time gap or on a location jump from
// the running event's last geotagged photo. Groups smaller than the
// configured minimum are dropped; a pair of photos makes an event by
// default, only lone shots stay out of the event list.
func (p *Pipeline) rebuildEvents() error {
	points, err := p.store.EventPoints()
	if err != nil {
		return err
	}

	gapHours := p.settings.Pipeline.Events.GapHours
	if gapHours <= 0 {
		gapHours = 6.0
	}
	jumpKm := p.settings.Pipeline.Events.JumpKm
	if jumpKm <= 0 {
		jumpKm = 50.0
	}
	minPhotos := p.settings.Pipeline.Events.MinPhotos
	if minPhotos <= 0 {
		minPhotos = 2
	}
	gap := time.Duration(gapHours * float64(time.Hour))

	var (
		drafts  []datastore.EventDraft
		current []datastore.EventPoint
		lastGeo *datastore.EventPoint
	)
	flush := func() {
		if len(current) >= minPhotos {
			drafts = append(drafts, draftEvent(current))
		}
		current = nil
		lastGeo = nil
	}

	for i := range points {
		pt := points[i]
		if len(current) > 0 {
			prev := current[len(current)-1]
			switch {
			case pt.DateTaken.Sub(prev.DateTaken) > gap:
				flush()
			case lastGeo != nil && pt.Latitude != nil && pt.Longitude != nil &&
				geocode.Haversine(*lastGeo.Latitude, *lastGeo.Longitude,
					*pt.Latitude, *pt.Longitude) > jumpKm:
				flush()
			}
		}
		current = append(current, pt)
		if pt.Latitude != nil && pt.Longitude != nil {
			lastGeo = &points[i]
		}
	}
	flush()

	return p.store.ReplaceEvents(drafts)
}

func (p *Pipeline) rebuildDuplicates() error {
	return p.store.ReplaceDuplicateGroups(p.dupes.Groups())
}

// draftEvent names and frames one grouped run of photos. Points arrive
// in capture order, so the frame is first to last.
func draftEvent(points []datastore.EventPoint) datastore.EventDraft {
	start := points[0].DateTaken
	end := points[len(points)-1].DateTaken
	city, country := dominantCity(points)

	ids := make([]uint, 0, len(points))
	for i := range points {
		ids = append(ids, points[i].ID)
	}
	return datastore.EventDraft{
		Name:      eventName(start, end, city, country),
		StartTime: start,
		EndTime:   end,
		City:      city,
		Country:   country,
		PhotoIDs:  ids,
	}
}

// dominantCity returns the most frequent resolved city in the group and
// the country recorded alongside its first appearance. Ties go to the
// city seen first.
func dominantCity(points []datastore.EventPoint) (city, country string) {
	counts := make(map[string]int)
	best := ""
	for i := range points {
		c := points[i].City
		if c == "" {
			continue
		}
		counts[c]++
		if best == "" || counts[c] > counts[best] {
			best = c
		}
	}
	if best == "" {
		return "", ""
	}
	for i := range points {
		if points[i].City == best {
			return best, points[i].Country
		}
	}
	return best, ""
}

// eventName renders the human readable label, location first when known.
// The date part tightens with the span: part of a day, a day, a run of
// days inside one month, or an open range.
func eventName(start, end time.Time, city, country string) string {
	span := end.Sub(start)

	var timePart string
	switch {
	case span < 6*time.Hour:
		half := "morning"
		if start.Hour() >= 12 {
			half = "afternoon"
		}
		timePart = start.Format("Jan 02, 2006") + " " + half
	case span < 24*time.Hour:
		timePart = start.Format("Jan 02, 2006")
	case span < 7*24*time.Hour && start.Month() == end.Month():
		timePart = start.Format("Jan 02") + "-" + end.Format("02, 2006")
	default:
		timePart = start.Format("Jan 02") + " - " + end.Format("Jan 02, 2006")
	}

	location := city
	if city != "" && country != "" {
		location = city + ", " + country
	}
	if location == "" {
		return timePart
	}
	return location + " - " + timePart
}
