//go:build ruleguard

// Package gorules defines custom ruleguard rules for Go modernization.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MinMaxBuiltin flags hand-rolled min/max and math.Min/Max over integers,
// which the builtins cover since Go 1.21 without float conversions.
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(
		`int(math.Min(float64($a), float64($b)))`,
	).
		Report("use min($a, $b) instead of math.Min with float conversions (Go 1.21+)").
		Suggest("min($a, $b)")

	m.Match(
		`int(math.Max(float64($a), float64($b)))`,
	).
		Report("use max($a, $b) instead of math.Max with float conversions (Go 1.21+)").
		Suggest("max($a, $b)")

	m.Match(
		`if $a < $b { $x = $a } else { $x = $b }`,
	).
		Report("use $x = min($a, $b) (Go 1.21+)").
		Suggest("$x = min($a, $b)")

	m.Match(
		`if $a > $b { $x = $a } else { $x = $b }`,
	).
		Report("use $x = max($a, $b) (Go 1.21+)").
		Suggest("$x = max($a, $b)")
}

// SlicesContains flags manual membership loops that slices.Contains replaces.
func SlicesContains(m dsl.Matcher) {
	m.Match(
		`for _, $v := range $s { if $v == $x { return true } }; return false`,
	).
		Report("use slices.Contains($s, $x) instead of a manual loop (Go 1.21+)").
		Suggest("return slices.Contains($s, $x)")

	m.Match(
		`for $i := range $s { if $s[$i] == $x { return true } }; return false`,
	).
		Report("use slices.Contains($s, $x) instead of a manual loop (Go 1.21+)").
		Suggest("return slices.Contains($s, $x)")
}

// TimeLayoutConstants flags magic reference-time strings that have named
// constants since Go 1.20. Capture timestamps and timeline buckets format
// dates all over this tree, so the literals show up a lot.
func TimeLayoutConstants(m dsl.Matcher) {
	m.Match(
		`$t.Format("2006-01-02 15:04:05")`,
	).
		Report(`use $t.Format(time.DateTime) (Go 1.20+)`).
		Suggest(`$t.Format(time.DateTime)`)

	m.Match(
		`time.Parse("2006-01-02 15:04:05", $s)`,
	).
		Report(`use time.Parse(time.DateTime, $s) (Go 1.20+)`).
		Suggest(`time.Parse(time.DateTime, $s)`)

	m.Match(
		`$t.Format("2006-01-02")`,
	).
		Report(`use $t.Format(time.DateOnly) (Go 1.20+)`).
		Suggest(`$t.Format(time.DateOnly)`)

	m.Match(
		`time.Parse("2006-01-02", $s)`,
	).
		Report(`use time.Parse(time.DateOnly, $s) (Go 1.20+)`).
		Suggest(`time.Parse(time.DateOnly, $s)`)
}
