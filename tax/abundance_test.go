// Copyright © 2022-2023 taxprof authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package tax

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func addMarker(t *testing.T, tree *Tree, cat *Catalog, marker, clade string, length, reads int) {
	t.Helper()
	cat.Lengths[marker] = length
	if err := tree.AddMarker(marker, clade); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.SetMarkerReads(marker, reads); err != nil {
		t.Fatal(err)
	}
}

// two phyla under one kingdom, one of them without any read
func smallSample(t *testing.T) (*Tree, *Catalog) {
	t.Helper()
	tree := buildTree(t, [][]string{
		{"k__X", "p__Y"},
		{"k__X", "p__Z"},
	})
	cat := &Catalog{Lengths: make(map[string]int)}
	addMarker(t, tree, cat, "m1", "p__Y", 100, 3)
	addMarker(t, tree, cat, "m2", "p__Z", 50, 0)
	return tree, cat
}

func TestComputeAvgGlobal(t *testing.T) {
	tree, cat := smallSample(t)
	p, err := NewProfiler(tree, cat, EstimatorConfig{
		Kind:                AvgGlobal,
		QuantileFraction:    0.1,
		MinCumulativeLength: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	p.Compute()

	// 3 reads over 100 bp = 30 reads per kilobase
	y, _ := tree.Clade("p__Y")
	if !almostEqual(y.Abundance(), 30) {
		t.Errorf("p__Y: got %v, want 30", y.Abundance())
	}
	z, _ := tree.Clade("p__Z")
	if !almostEqual(z.Abundance(), 0) {
		t.Errorf("p__Z: got %v, want 0", z.Abundance())
	}
	// the kingdom has no markers of its own and inherits the children
	x, _ := tree.Clade("k__X")
	if !almostEqual(x.Abundance(), 30) {
		t.Errorf("k__X: got %v, want 30", x.Abundance())
	}
}

func TestRelativeAbundancesRank(t *testing.T) {
	tree, cat := smallSample(t)
	p, err := NewProfiler(tree, cat, EstimatorConfig{
		Kind:                AvgGlobal,
		QuantileFraction:    0.1,
		MinCumulativeLength: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}

	rows := p.RelativeAbundances("p__")
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2: %v", len(rows), rows)
	}
	// p__Z has zero abundance and is not reported
	if rows[0].Clade != "p__Y" || !almostEqual(rows[0].Value, 1) {
		t.Errorf("row 0: got %v", rows[0])
	}
	if rows[1].Clade != "p__unclassified" || !almostEqual(rows[1].Value, 0) {
		t.Errorf("row 1: got %v", rows[1])
	}
}

func TestRelativeAbundancesAllRanks(t *testing.T) {
	tree, cat := smallSample(t)
	p, err := NewProfiler(tree, cat, EstimatorConfig{
		Kind:                AvgGlobal,
		QuantileFraction:    0.1,
		MinCumulativeLength: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}

	rows := p.RelativeAbundances("")
	want := map[string]float64{
		"k__X":      1,
		"k__X|p__Y": 1,
		// p__Y is childless above species rank, its whole mass is
		// still unclassified at the next rank down
		"k__X|p__Y|c__Y_unclassified": 1,
	}
	if len(rows) != len(want) {
		t.Fatalf("rows: got %d, want %d: %v", len(rows), len(want), rows)
	}
	for _, row := range rows {
		v, ok := want[row.Clade]
		if !ok {
			t.Errorf("unexpected row: %v", row)
			continue
		}
		if !almostEqual(row.Value, v) {
			t.Errorf("%s: got %v, want %v", row.Clade, row.Value, v)
		}
	}
}

// genus markers see more reads than its species explain, the excess
// surfaces as a synthetic species-level unclassified entry
func TestUnclassifiedMass(t *testing.T) {
	tree := buildTree(t, [][]string{
		{"k__K", "p__P", "c__C", "o__O", "f__F", "g__G", "s__A"},
		{"k__K", "p__P", "c__C", "o__O", "f__F", "g__G", "s__B"},
	})
	cat := &Catalog{Lengths: make(map[string]int)}
	addMarker(t, tree, cat, "mg", "g__G", 1000, 10)
	addMarker(t, tree, cat, "ma", "s__A", 1000, 4)
	addMarker(t, tree, cat, "mb", "s__B", 1000, 2)

	p, err := NewProfiler(tree, cat, EstimatorConfig{
		Kind:             AvgGlobal,
		QuantileFraction: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	p.Compute()

	g, _ := tree.Clade("g__G")
	if !almostEqual(g.Abundance(), 10) {
		t.Errorf("g__G: got %v, want 10", g.Abundance())
	}
	if !almostEqual(g.UnclassifiedMass(), 4) {
		t.Errorf("g__G unclassified mass: got %v, want 4", g.UnclassifiedMass())
	}

	rows := p.RelativeAbundances("s__")
	want := map[string]float64{
		"s__A":              0.4,
		"s__B":              0.2,
		"s__G_unclassified": 0.4,
		"s__unclassified":   0,
	}
	if len(rows) != len(want) {
		t.Fatalf("rows: got %d, want %d: %v", len(rows), len(want), rows)
	}
	for _, row := range rows {
		v, ok := want[row.Clade]
		if !ok {
			t.Errorf("unexpected row: %v", row)
			continue
		}
		if !almostEqual(row.Value, v) {
			t.Errorf("%s: got %v, want %v", row.Clade, row.Value, v)
		}
	}
}

func TestFloorRule(t *testing.T) {
	tree := buildTree(t, [][]string{
		{"k__K", "p__P1"},
		{"k__K", "p__P2"},
	})
	cat := &Catalog{Lengths: make(map[string]int)}
	// the kingdom's own markers are short and dense, but below the
	// cumulative length threshold its children win
	addMarker(t, tree, cat, "mk", "k__K", 100, 50)
	addMarker(t, tree, cat, "m1", "p__P1", 3000, 3)
	addMarker(t, tree, cat, "m2", "p__P2", 3000, 6)

	p, err := NewProfiler(tree, cat, EstimatorConfig{
		Kind:                AvgGlobal,
		QuantileFraction:    0.1,
		MinCumulativeLength: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	p.Compute()

	k, _ := tree.Clade("k__K")
	p1, _ := tree.Clade("p__P1")
	p2, _ := tree.Clade("p__P2")
	if !almostEqual(k.Abundance(), p1.Abundance()+p2.Abundance()) {
		t.Errorf("k__K: got %v, want children sum %v", k.Abundance(), p1.Abundance()+p2.Abundance())
	}
}

func TestMonotonicity(t *testing.T) {
	for name, kind := range estimatorNames {
		for _, q := range []float64{0, 0.1, 0.25, 0.4} {
			tree := buildTree(t, [][]string{
				{"k__K", "p__P1"},
				{"k__K", "p__P2"},
			})
			cat := &Catalog{Lengths: make(map[string]int)}
			addMarker(t, tree, cat, "mk1", "k__K", 5000, 1)
			addMarker(t, tree, cat, "mk2", "k__K", 5000, 2)
			addMarker(t, tree, cat, "m1a", "p__P1", 3000, 30)
			addMarker(t, tree, cat, "m1b", "p__P1", 3000, 10)
			addMarker(t, tree, cat, "m2a", "p__P2", 3000, 7)

			p, err := NewProfiler(tree, cat, EstimatorConfig{
				Kind:                kind,
				QuantileFraction:    q,
				MinCumulativeLength: 2000,
			})
			if err != nil {
				t.Fatal(err)
			}
			p.Compute()

			k, _ := tree.Clade("k__K")
			p1, _ := tree.Clade("p__P1")
			p2, _ := tree.Clade("p__P2")
			if k.Abundance() < p1.Abundance()+p2.Abundance()-1e-9 {
				t.Errorf("%s q=%v: k__K %v below children sum %v",
					name, q, k.Abundance(), p1.Abundance()+p2.Abundance())
			}
		}
	}
}

func TestEstimators(t *testing.T) {
	pairs := []lengthCount{
		{marker: "m1", length: 1000, count: 1},
		{marker: "m2", length: 1000, count: 2},
		{marker: "m3", length: 1000, count: 3},
		{marker: "m4", length: 1000, count: 4},
		{marker: "m5", length: 1000, count: 100},
	}
	var totalLength float64 = 5000

	tests := []struct {
		kind EstimatorKind
		q    float64
		want float64
	}{
		{AvgGlobal, 0.2, 110 * 1000 / 5000.0},
		{AvgLocal, 0.2, 22},
		// trim one marker at each end: counts 2, 3, 4 over 3000 bp
		{TruncGlobal, 0.2, 3},
		{TruncLocal, 0.2, 3},
		// winsorize: 1 -> 2 and 100 -> 4
		{WinsorGlobal, 0.2, 15 * 1000 / 5000.0},
		{WinsorLocal, 0.2, 3},
		{Median, 0.2, 3},
		{Median, 0, 3},
	}
	for _, tt := range tests {
		got := estimate(tt.kind, pairs, totalLength, tt.q)
		if !almostEqual(got, tt.want) {
			t.Errorf("%s q=%v: got %v, want %v", tt.kind, tt.q, got, tt.want)
		}
	}

	// with q=0 the robust estimators degenerate to the plain averages
	for _, kinds := range [][2]EstimatorKind{
		{TruncGlobal, AvgGlobal},
		{TruncLocal, AvgLocal},
		{WinsorGlobal, AvgGlobal},
		{WinsorLocal, AvgLocal},
	} {
		a := estimate(kinds[0], pairs, totalLength, 0)
		b := estimate(kinds[1], pairs, totalLength, 0)
		if !almostEqual(a, b) {
			t.Errorf("q=0: %s %v != %s %v", kinds[0], a, kinds[1], b)
		}
	}
}

func TestEstimatorsEmpty(t *testing.T) {
	for name, kind := range estimatorNames {
		if got := estimate(kind, nil, -1, 0.1); got != 0 {
			t.Errorf("%s on no markers: got %v, want 0", name, got)
		}
	}
}

func TestComputeIdempotent(t *testing.T) {
	tree, cat := smallSample(t)
	p, err := NewProfiler(tree, cat, EstimatorConfig{
		Kind:                AvgGlobal,
		QuantileFraction:    0.1,
		MinCumulativeLength: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}

	p.Compute()
	y, _ := tree.Clade("p__Y")
	first := y.Abundance()
	p.Compute()
	if !almostEqual(y.Abundance(), first) {
		t.Errorf("recompute changed p__Y: %v != %v", y.Abundance(), first)
	}
}

func TestNewProfilerInvalidQuantile(t *testing.T) {
	tree, cat := smallSample(t)
	for _, q := range []float64{-0.1, 0.5, 0.9} {
		if _, err := NewProfiler(tree, cat, EstimatorConfig{Kind: AvgGlobal, QuantileFraction: q}); err == nil {
			t.Errorf("q=%v: expected error", q)
		}
	}
}

func TestCladeProfiles(t *testing.T) {
	tree, cat := smallSample(t)
	p, err := NewProfiler(tree, cat, EstimatorConfig{Kind: AvgGlobal, QuantileFraction: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	profiles := p.CladeProfiles("")
	if len(profiles) != 1 {
		t.Fatalf("profiles: got %d, want 1 (zero-sum clades skipped): %v", len(profiles), profiles)
	}
	if profiles[0].Clade != "p__Y" {
		t.Errorf("clade: got %s, want p__Y", profiles[0].Clade)
	}
	if len(profiles[0].Markers) != 1 || !almostEqual(profiles[0].Markers[0].Value, 30) {
		t.Errorf("markers: got %v", profiles[0].Markers)
	}
}

func TestReadsMap(t *testing.T) {
	tree, cat := smallSample(t)
	p, err := NewProfiler(tree, cat, EstimatorConfig{Kind: AvgGlobal, QuantileFraction: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	b := NewBestHits()
	b.Add("r2\tm1", 1e-6)
	b.Add("r1\tm1", 1e-6)
	b.Add("r3\tmGone", 1e-6)

	rows, unknown := p.ReadsMap(b)
	if unknown != 1 {
		t.Errorf("unknown: got %d, want 1", unknown)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	// sorted by read id
	if rows[0].Read != "r1" || rows[1].Read != "r2" {
		t.Errorf("order: got %s, %s", rows[0].Read, rows[1].Read)
	}
	if rows[0].Clade != "k__X|p__Y" {
		t.Errorf("clade: got %s, want k__X|p__Y", rows[0].Clade)
	}
}

func TestMarkerTable(t *testing.T) {
	tree, cat := smallSample(t)
	p, err := NewProfiler(tree, cat, EstimatorConfig{Kind: AvgGlobal, QuantileFraction: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	table := p.MarkerTable(0)
	if len(table) != 2 {
		t.Fatalf("table: got %d, want 2", len(table))
	}
	if table[0].Marker != "m1" || !almostEqual(table[0].Value, 30) {
		t.Errorf("m1: got %v", table[0])
	}
	if table[1].Marker != "m2" || !almostEqual(table[1].Value, 0) {
		t.Errorf("m2: got %v", table[1])
	}

	// normalization by the sample's read count
	table = p.MarkerTable(3)
	if !almostEqual(table[0].Value, 10) {
		t.Errorf("m1 normalized: got %v, want 10", table[0].Value)
	}

	present := p.PresentMarkers(1.0)
	if len(present) != 1 || present[0] != "m1" {
		t.Errorf("present markers: got %v", present)
	}
}
