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
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/breader"
)

// RankLetters is the fixed rank alphabet, kingdom to species.
// The single-letter prefix of a clade name encodes its rank,
// e.g. "g__Bacteroides" is a genus.
const RankLetters = "kpcofgs"

// RootName is the name of the implicit root above the kingdoms.
const RootName = "root"

// ErrUnknownClade means a marker is mapped to a clade absent from the taxonomy.
var ErrUnknownClade = errors.New("tax: unknown clade")

// ErrCycle means the taxonomy contains a cycle, which is invalid input.
var ErrCycle = errors.New("tax: cycle in taxonomy")

// RankIndex returns the position of a rank letter in RankLetters,
// or -1 for an unknown letter.
func RankIndex(letter byte) int {
	return strings.IndexByte(RankLetters, letter)
}

// Clade is one node of the taxonomic tree.
type Clade struct {
	Name     string
	Parent   *Clade
	Children map[string]*Clade

	// children in insertion order, i.e. the order of the taxonomy file
	order []*Clade

	// marker -> number of assigned reads.
	// Only populated on storage nodes (see Tree.StorageNode).
	MarkerReads map[string]int

	abundance float64
	computed  bool

	// abundance beyond the children's sum
	unclMass float64

	// childless node above species rank, needs a synthetic
	// next-rank "unclassified" entry in reports
	synthUnclassified bool
}

// FullName returns the "|"-joined chain of names from just below
// the root down to the clade.
func (c *Clade) FullName() string {
	names := make([]string, 0, len(RankLetters))
	for n := c; n != nil && n.Parent != nil; n = n.Parent {
		names = append(names, n.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "|")
}

// Abundance returns the memoized abundance, valid after Profiler.Compute.
func (c *Clade) Abundance() float64 {
	return c.abundance
}

// UnclassifiedMass returns the abundance of the clade not attributable
// to any of its children, valid after Profiler.Compute.
func (c *Clade) UnclassifiedMass() float64 {
	return c.unclMass
}

func (c *Clade) addChild(name string) *Clade {
	child := &Clade{
		Name:     name,
		Parent:   c,
		Children: make(map[string]*Clade, 2),
	}
	c.Children[name] = child
	c.order = append(c.order, child)
	return child
}

// Tree is the whole taxonomy with its marker-to-clade mapping.
// It is immutable after loading, except for the per-run read counts
// and memoized abundances.
type Tree struct {
	Root *Clade

	clades       map[string]*Clade
	marker2clade map[string]string

	// marker -> resolved storage node, memoized so that lookups and
	// increments for a marker always land on the same node
	storage map[string]*Clade
}

// NewTree returns an empty taxonomy with just the root node.
func NewTree() *Tree {
	root := &Clade{Name: RootName, Children: make(map[string]*Clade, 8)}
	return &Tree{
		Root:         root,
		clades:       make(map[string]*Clade, 1<<10),
		marker2clade: make(map[string]string, 1<<10),
		storage:      make(map[string]*Clade, 1<<10),
	}
}

// AddLineage walks/creates nodes for one root-to-leaf chain of rank
// labels, reusing existing nodes with the same name at the same level.
func (t *Tree) AddLineage(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("tax: empty lineage")
	}
	if len(names) > len(RankLetters) {
		return fmt.Errorf("tax: lineage deeper than %d ranks: %s", len(RankLetters), strings.Join(names, "|"))
	}

	node := t.Root
	for i, name := range names {
		if len(name) < 3 || name[1:3] != "__" || name[0] != RankLetters[i] {
			return fmt.Errorf("tax: invalid %c-rank label: %q", RankLetters[i], name)
		}
		child, ok := node.Children[name]
		if !ok {
			child = node.addChild(name)
			t.clades[name] = child
		}
		node = child
	}
	return nil
}

// Clade looks a clade up by name.
func (t *Tree) Clade(name string) (*Clade, bool) {
	c, ok := t.clades[name]
	return c, ok
}

// NumClades returns the number of clades, the root excluded.
func (t *Tree) NumClades() int {
	return len(t.clades)
}

// NumMarkers returns the number of markers mapped to clades.
func (t *Tree) NumMarkers() int {
	return len(t.marker2clade)
}

// AddMarker maps a marker to a clade and zero-initializes its count on
// the storage node, so that every declared marker contributes a defined
// (possibly zero) count to the abundance estimators.
func (t *Tree) AddMarker(marker string, clade string) error {
	if _, ok := t.clades[clade]; !ok {
		return errors.Wrapf(ErrUnknownClade, "marker %s -> %s", marker, clade)
	}
	t.marker2clade[marker] = clade

	node, err := t.StorageNode(marker)
	if err != nil {
		return err
	}
	if node.MarkerReads == nil {
		node.MarkerReads = make(map[string]int, 8)
	}
	if _, ok := node.MarkerReads[marker]; !ok {
		node.MarkerReads[marker] = 0
	}
	return nil
}

// StorageNode resolves the node owning the counts of a marker: the clade
// the marker is mapped to, descended through single-child chains to the
// deepest non-branching node. A parent with exactly one child carries no
// distinguishing information, so its markers are attributed to the child.
// The result is memoized.
func (t *Tree) StorageNode(marker string) (*Clade, error) {
	if node, ok := t.storage[marker]; ok {
		return node, nil
	}

	name, ok := t.marker2clade[marker]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClade, "marker not mapped: %s", marker)
	}
	node := t.clades[name]

	seen := make(map[*Clade]struct{}, 8)
	for len(node.Children) == 1 {
		if _, ok = seen[node]; ok {
			return nil, errors.Wrapf(ErrCycle, "below clade %s", name)
		}
		seen[node] = struct{}{}
		node = node.order[0]
	}

	t.storage[marker] = node
	return node, nil
}

// SetMarkerReads records the number of distinct reads assigned to a
// marker on its storage node. It returns false for markers absent from
// the marker-to-clade mapping, which the caller should count and skip.
func (t *Tree) SetMarkerReads(marker string, n int) (bool, error) {
	if _, ok := t.marker2clade[marker]; !ok {
		return false, nil
	}
	node, err := t.StorageNode(marker)
	if err != nil {
		return false, err
	}
	node.MarkerReads[marker] = n
	return true, nil
}

// reset invalidates all per-run computed values, keeping the structure
// and the marker counts.
func (t *Tree) reset() {
	var walk func(c *Clade)
	walk = func(c *Clade) {
		c.abundance = 0
		c.computed = false
		c.unclMass = 0
		c.synthUnclassified = false
		for _, child := range c.order {
			walk(child)
		}
	}
	walk(t.Root)
}

// RankCounts returns the number of clades of each rank, indexed like
// RankLetters.
func (t *Tree) RankCounts() []int {
	counts := make([]int, len(RankLetters))
	for name := range t.clades {
		if i := RankIndex(name[0]); i >= 0 {
			counts[i]++
		}
	}
	return counts
}

// Kingdoms returns the direct children of the root that are kingdom-rank
// clades, excluding "*_unclassified" placeholders a taxonomy may carry.
func (t *Tree) Kingdoms() []*Clade {
	kingdoms := make([]*Clade, 0, len(t.Root.order))
	for _, c := range t.Root.order {
		if c.Name[0] == RankLetters[0] && !strings.HasSuffix(c.Name, "_unclassified") {
			kingdoms = append(kingdoms, c)
		}
	}
	return kingdoms
}

// ReadTaxonomy loads a taxonomy from a file of tab-separated rank
// chains, one chain per line, e.g.
//
//	k__Bacteria	p__Firmicutes	c__Clostridia
func ReadTaxonomy(file string) (*Tree, error) {
	fn := func(line string) (interface{}, bool, error) {
		if line == "" || line[0] == '#' {
			return nil, false, nil
		}
		return strings.Split(line, "\t"), true, nil
	}
	reader, err := breader.NewBufferedReader(file, 4, 100, fn)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}

	t := NewTree()
	var data interface{}
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			return nil, errors.Wrap(chunk.Err, file)
		}
		for _, data = range chunk.Data {
			if err = t.AddLineage(data.([]string)); err != nil {
				return nil, errors.Wrap(err, file)
			}
		}
	}
	return t, nil
}
