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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EstimatorKind selects the robust statistic used to turn per-marker
// read counts into a clade abundance.
type EstimatorKind int

const (
	// AvgGlobal: summed reads over summed marker length.
	AvgGlobal EstimatorKind = iota
	// AvgLocal: mean of per-marker read densities.
	AvgLocal
	// TruncGlobal: AvgGlobal after dropping the densest and sparsest
	// quantile of markers.
	TruncGlobal
	// TruncLocal: AvgLocal over the trimmed markers.
	TruncLocal
	// WinsorGlobal: AvgGlobal with extreme counts clamped to the
	// quantile boundaries instead of dropped.
	WinsorGlobal
	// WinsorLocal: AvgLocal with extreme densities clamped.
	WinsorLocal
	// Median: median of per-marker densities after trimming.
	Median
)

var estimatorNames = map[string]EstimatorKind{
	"avg_g":  AvgGlobal,
	"avg_l":  AvgLocal,
	"tavg_g": TruncGlobal,
	"tavg_l": TruncLocal,
	"wavg_g": WinsorGlobal,
	"wavg_l": WinsorLocal,
	"med":    Median,
}

// ParseEstimator maps an estimator name (avg_g, avg_l, tavg_g, tavg_l,
// wavg_g, wavg_l, med) to its kind.
func ParseEstimator(name string) (EstimatorKind, error) {
	kind, ok := estimatorNames[name]
	if !ok {
		return 0, fmt.Errorf("tax: unknown estimator: %s", name)
	}
	return kind, nil
}

func (k EstimatorKind) String() string {
	for name, kind := range estimatorNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// EstimatorConfig carries all estimator parameters explicitly, so no
// ambient state is needed during computation.
type EstimatorConfig struct {
	Kind EstimatorKind

	// fraction of markers trimmed/winsorized at each end, in [0, 0.5)
	QuantileFraction float64

	// clades whose summed marker length is below this threshold trust
	// their children instead of their own markers
	MinCumulativeLength int
}

// Abundance is one labeled output value.
type Abundance struct {
	Clade string
	Value float64
}

// MarkerAbundance is a length-normalized read count of one marker.
type MarkerAbundance struct {
	Marker string
	Value  float64
}

// CladeProfile lists the normalized marker counts of one clade.
type CladeProfile struct {
	Clade   string
	Markers []MarkerAbundance
}

// ReadAssignment maps a read to the full name of the clade owning its
// best-hit marker.
type ReadAssignment struct {
	Read  string
	Clade string
}

// Profiler computes clade abundances over a loaded tree and catalog.
type Profiler struct {
	Tree *Tree
	Cat  *Catalog

	cfg  EstimatorConfig
	done bool
}

// NewProfiler validates the configuration and binds it to the reference data.
func NewProfiler(t *Tree, cat *Catalog, cfg EstimatorConfig) (*Profiler, error) {
	if cfg.QuantileFraction < 0 || cfg.QuantileFraction >= 0.5 {
		return nil, fmt.Errorf("tax: quantile fraction out of range [0, 0.5): %v", cfg.QuantileFraction)
	}
	return &Profiler{Tree: t, Cat: cat, cfg: cfg}, nil
}

// Compute runs the bottom-up abundance computation for the whole tree.
// Kingdom subtrees are disjoint, so they are computed concurrently; each
// node's memoized value is written exactly once.
func (p *Profiler) Compute() {
	p.Tree.reset()

	var wg sync.WaitGroup
	for _, k := range p.Tree.Kingdoms() {
		wg.Add(1)
		go func(k *Clade) {
			defer wg.Done()
			p.compute(k)
		}(k)
	}
	wg.Wait()
	p.done = true
}

func (p *Profiler) ensure() {
	if !p.done {
		p.Compute()
	}
}

// lengthCount is one (marker length, read count) observation.
type lengthCount struct {
	marker string
	length float64
	count  float64
}

func (p *Profiler) pairs(c *Clade) []lengthCount {
	out := make([]lengthCount, 0, len(c.MarkerReads))
	for marker, n := range c.MarkerReads {
		length, ok := p.Cat.Lengths[marker]
		if !ok || length <= 0 {
			continue
		}
		out = append(out, lengthCount{marker: marker, length: float64(length), count: float64(n)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count < out[j].count
		}
		return out[i].marker < out[j].marker
	})
	return out
}

func (p *Profiler) compute(c *Clade) float64 {
	if c.computed {
		return c.abundance
	}

	var childSum float64
	for _, child := range c.order {
		childSum += p.compute(child)
	}

	pairs := p.pairs(c)

	totalLength := -1.0
	if len(pairs) > 0 {
		totalLength = 0
		for _, pr := range pairs {
			totalLength += pr.length
		}
		if totalLength == 0 {
			totalLength = -1
		}
	}

	local := estimate(p.cfg.Kind, pairs, totalLength, p.cfg.QuantileFraction)

	var ab float64
	switch {
	case totalLength < float64(p.cfg.MinCumulativeLength) && len(c.order) > 0:
		// not enough direct marker evidence, trust the descendants
		ab = childSum
	case local < childSum:
		// a clade is never less abundant than the sum of its children
		ab = childSum
	default:
		ab = local
	}

	c.abundance = ab
	c.computed = true

	if ab > childSum && len(c.order) > 0 {
		c.unclMass = ab - childSum
	}
	c.synthUnclassified = len(c.order) == 0 && c.Name[0] != RankLetters[len(RankLetters)-1]

	return ab
}

// estimate computes the local (marker-only) abundance of a clade in
// reads per kilobase. Global estimators pool raw counts over pooled
// lengths, local ones average per-marker densities. A negative
// totalLength disables the global estimators.
func estimate(kind EstimatorKind, pairs []lengthCount, totalLength float64, q float64) float64 {
	n := len(pairs)
	trim := int(q * float64(n))

	switch kind {
	case AvgGlobal:
		if totalLength < 0 {
			return 0
		}
		var reads float64
		for _, pr := range pairs {
			reads += pr.count
		}
		return reads * 1000 / totalLength

	case AvgLocal:
		if n == 0 {
			return 0
		}
		var sum float64
		for _, pr := range pairs {
			sum += pr.count * 1000 / pr.length
		}
		return sum / float64(n)

	case TruncGlobal:
		if totalLength < 0 {
			return 0
		}
		byRatio := sortedByRatio(pairs)
		var reads, length float64
		for _, pr := range byRatio[trim : n-trim] {
			reads += pr.count
			length += pr.length
		}
		if length == 0 {
			return 0
		}
		return reads * 1000 / length

	case TruncLocal:
		ratios := ratios(pairs)
		kept := ratios[trim : n-trim]
		if len(kept) == 0 {
			return 0
		}
		var sum float64
		for _, r := range kept {
			sum += r
		}
		return sum / float64(len(kept))

	case WinsorGlobal:
		if totalLength < 0 {
			return 0
		}
		counts := make([]float64, n)
		for i, pr := range pairs {
			counts[i] = pr.count
		}
		sort.Float64s(counts)
		var reads float64
		for i, v := range counts {
			switch {
			case i < trim:
				reads += counts[trim]
			case i >= n-trim:
				reads += counts[n-1-trim]
			default:
				reads += v
			}
		}
		return reads * 1000 / totalLength

	case WinsorLocal:
		if n == 0 {
			return 0
		}
		rs := ratios(pairs)
		var sum float64
		for i, r := range rs {
			switch {
			case i < trim:
				sum += rs[trim]
			case i >= n-trim:
				sum += rs[n-1-trim]
			default:
				sum += r
			}
		}
		return sum / float64(n)

	case Median:
		rs := ratios(pairs)
		kept := rs[trim : n-trim]
		m := len(kept)
		if m == 0 {
			return 0
		}
		// trimmed median, inherited behavior rather than a true
		// weighted median
		if m%2 == 1 {
			return kept[m/2]
		}
		return (kept[m/2-1] + kept[m/2]) / 2
	}

	return 0
}

// ratios returns the sorted per-marker read densities (reads per kilobase).
func ratios(pairs []lengthCount) []float64 {
	rs := make([]float64, len(pairs))
	for i, pr := range pairs {
		rs[i] = pr.count * 1000 / pr.length
	}
	sort.Float64s(rs)
	return rs
}

func sortedByRatio(pairs []lengthCount) []lengthCount {
	out := make([]lengthCount, len(pairs))
	copy(out, pairs)
	sort.Slice(out, func(i, j int) bool {
		ri := out[i].count / out[i].length
		rj := out[j].count / out[j].length
		if ri != rj {
			return ri < rj
		}
		return out[i].marker < out[j].marker
	})
	return out
}

// entry is one collected (label, value) pair, keeping a reference to the
// real clade that produced it so synthetic labels can be remapped.
type entry struct {
	node      *Clade
	label     string
	value     float64
	synthetic bool
}

func (p *Profiler) collect(c *Clade, out []entry) []entry {
	out = append(out, entry{node: c, label: c.Name, value: c.abundance})

	if c.unclMass > 0 && len(c.order) > 0 {
		// mass of an as-yet-unclassified sub-lineage, one rank below
		letter := c.order[0].Name[0]
		out = append(out, entry{
			node:      c,
			label:     string(letter) + c.Name[1:] + "_unclassified",
			value:     c.unclMass,
			synthetic: true,
		})
	}

	if c.synthUnclassified {
		next := RankLetters[RankIndex(c.Name[0])+1]
		out = append(out, entry{
			node:      c,
			label:     string(next) + c.Name[1:] + "_unclassified",
			value:     c.abundance,
			synthetic: true,
		})
	}

	for _, child := range c.order {
		out = p.collect(child, out)
	}
	return out
}

// RelativeAbundances normalizes all clade abundances by the summed
// kingdom abundances. rankPrefix selects a single rank (e.g. "g__"),
// the empty string reports all ranks with fully qualified names.
// For a selected rank, a final "<rank>unclassified" entry forces the
// reported values to sum to 1.
func (p *Profiler) RelativeAbundances(rankPrefix string) []Abundance {
	p.ensure()

	kingdoms := p.Tree.Kingdoms()
	var norm float64
	for _, k := range kingdoms {
		norm += k.abundance
	}

	order := make([]string, 0, 1<<10)
	values := make(map[string]float64, 1<<10)
	add := func(label string, v float64) {
		if _, ok := values[label]; !ok {
			order = append(order, label)
		}
		values[label] += v
	}

	all := rankPrefix == ""
	var ri int
	if !all {
		ri = RankIndex(rankPrefix[0])
	}

	for _, k := range kingdoms {
		for _, e := range p.collect(k, nil) {
			switch {
			case all:
				if e.synthetic {
					add(e.node.FullName()+"|"+e.label, e.value)
				} else {
					add(e.node.FullName(), e.value)
				}
			case strings.HasPrefix(e.label, rankPrefix):
				add(e.label, e.value)
			case e.synthetic && RankIndex(e.label[0]) < ri:
				// unclassified mass above the requested rank surfaces
				// at the requested rank, named after the nearest
				// enclosing real clade
				add(string(rankPrefix[0])+e.node.Name[1:]+"_unclassified", e.value)
			}
		}
	}

	out := make([]Abundance, 0, len(order))
	var sum float64
	for _, label := range order {
		v := values[label]
		if norm > 0 {
			v /= norm
		} else {
			v = 0
		}
		if v <= 0 {
			continue
		}
		out = append(out, Abundance{Clade: label, Value: v})
		sum += v
	}

	if !all {
		out = append(out, Abundance{Clade: rankPrefix + "unclassified", Value: 1 - sum})
	}
	return out
}

func (p *Profiler) normalizedCounts(c *Clade) []MarkerAbundance {
	out := make([]MarkerAbundance, 0, len(c.MarkerReads))
	for marker, n := range c.MarkerReads {
		length, ok := p.Cat.Lengths[marker]
		if !ok || length <= 0 {
			continue
		}
		out = append(out, MarkerAbundance{Marker: marker, Value: float64(n) * 1000 / float64(length)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Marker < out[j].Marker })
	return out
}

// CladeProfiles returns the per-marker normalized counts of every clade
// matching the optional rank-prefix filter whose counts sum to a
// positive value.
func (p *Profiler) CladeProfiles(rankPrefix string) []CladeProfile {
	profiles := make([]CladeProfile, 0, 1<<10)

	var walk func(c *Clade)
	walk = func(c *Clade) {
		if len(c.MarkerReads) > 0 &&
			(rankPrefix == "" || strings.HasPrefix(c.Name, rankPrefix)) {
			counts := p.normalizedCounts(c)
			var sum float64
			for _, m := range counts {
				sum += m.Value
			}
			if len(counts) > 0 && sum > 0 {
				profiles = append(profiles, CladeProfile{Clade: c.Name, Markers: counts})
			}
		}
		for _, child := range c.order {
			walk(child)
		}
	}
	walk(p.Tree.Root)
	return profiles
}

// ReadsMap resolves every read of the best-hit assignment to the full
// name of the clade owning its marker, sorted by read id. Reads hitting
// markers absent from the reference data are skipped and counted.
func (p *Profiler) ReadsMap(hits *BestHits) ([]ReadAssignment, int) {
	out := make([]ReadAssignment, 0, len(hits.Reads2Marker))
	var unknown int
	for read, marker := range hits.Reads2Marker {
		node, err := p.Tree.StorageNode(marker)
		if err != nil {
			unknown++
			continue
		}
		out = append(out, ReadAssignment{Read: read, Clade: node.FullName()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Read < out[j].Read })
	return out, unknown
}

// MarkerTable returns the normalized count of every declared marker,
// optionally divided by the total read count of the sample.
func (p *Profiler) MarkerTable(totalReads int) []MarkerAbundance {
	out := make([]MarkerAbundance, 0, len(p.Tree.marker2clade))
	for marker := range p.Tree.marker2clade {
		length, ok := p.Cat.Lengths[marker]
		if !ok || length <= 0 {
			continue
		}
		node, err := p.Tree.StorageNode(marker)
		if err != nil {
			continue
		}
		v := float64(node.MarkerReads[marker]) * 1000 / float64(length)
		if totalReads > 0 {
			v /= float64(totalReads)
		}
		out = append(out, MarkerAbundance{Marker: marker, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Marker < out[j].Marker })
	return out
}

// PresentMarkers returns the markers whose normalized count exceeds the
// presence threshold.
func (p *Profiler) PresentMarkers(threshold float64) []string {
	table := p.MarkerTable(0)
	out := make([]string, 0, len(table))
	for _, m := range table {
		if m.Value > threshold {
			out = append(out, m.Marker)
		}
	}
	return out
}
