//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the manual Add/Done goroutine pattern. The worker pools
// in this tree spawn a lot of goroutines; wg.Go keeps Add and Done paired.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")
}

// TimeSinceUntil flags Sub against time.Now in either direction.
func TimeSinceUntil(m dsl.Matcher) {
	m.Match(
		`time.Now().Sub($t)`,
	).
		Report("use time.Since($t)").
		Suggest("time.Since($t)")

	m.Match(
		`$t.Sub(time.Now())`,
	).
		Report("use time.Until($t)").
		Suggest("time.Until($t)")
}

// SleepInsteadOfSelect flags a select with only a time.After case, which is
// just a cancellation-unaware sleep.
func SleepInsteadOfSelect(m dsl.Matcher) {
	m.Match(
		`select { case <-time.After($d): }`,
	).
		Report("use time.Sleep($d), or select on a context if cancellation matters").
		Suggest("time.Sleep($d)")
}
