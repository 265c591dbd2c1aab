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
	"testing"
)

const evalueOK = "1e-10"

func TestBestHitFirstMaximumWins(t *testing.T) {
	b := NewBestHits()
	for _, line := range []string{
		"r1\tmA\t" + evalueOK + "\t5",
		"r1\tmB\t" + evalueOK + "\t9",
		"r1\tmC\t" + evalueOK + "\t9", // equal score must not replace mB
		"r1\tmD\t" + evalueOK + "\t3",
	} {
		b.Add(line, 1e-6)
	}

	if marker := b.Reads2Marker["r1"]; marker != "mB" {
		t.Errorf("best hit: got %s, want mB", marker)
	}
	if b.Records != 4 {
		t.Errorf("Records: got %d, want 4", b.Records)
	}
}

func TestBestHitTwoFieldRecords(t *testing.T) {
	b := NewBestHits()
	b.Add("r1\tmA\t"+evalueOK+"\t50", 1e-6)
	// pre-resolved records are accepted unconditionally
	b.Add("r1\tmB", 1e-6)

	if marker := b.Reads2Marker["r1"]; marker != "mB" {
		t.Errorf("best hit: got %s, want mB", marker)
	}
}

func TestBestHitEvalueFilter(t *testing.T) {
	b := NewBestHits()
	b.Add("r1\tmA\t1e-3\t99", 1e-6)  // above threshold
	b.Add("r1\tmB\t1e-6\t99", 1e-6)  // equal to threshold, still filtered
	b.Add("r1\tmC\t1e-10\t10", 1e-6) // passes

	if b.Filtered != 2 {
		t.Errorf("Filtered: got %d, want 2", b.Filtered)
	}
	if marker := b.Reads2Marker["r1"]; marker != "mC" {
		t.Errorf("best hit: got %s, want mC", marker)
	}
}

func TestBestHitMalformedAndWarnings(t *testing.T) {
	b := NewBestHits()
	b.Add("Warning: lambda parameters not found", 1e-6)
	b.Add("", 1e-6)
	b.Add("loneField", 1e-6)
	b.Add("r1\tmA\tnot-a-number\t10", 1e-6)
	b.Add("r1\tmA\t1e-10\tnot-a-number", 1e-6)

	if b.Dropped != 3 {
		t.Errorf("Dropped: got %d, want 3", b.Dropped)
	}
	if len(b.Reads2Marker) != 0 {
		t.Errorf("Reads2Marker: got %d entries, want 0", len(b.Reads2Marker))
	}
}

func TestMarkers2Reads(t *testing.T) {
	b := NewBestHits()
	b.Add("r1\tmA", 1e-6)
	b.Add("r2\tmA", 1e-6)
	b.Add("r3\tmB", 1e-6)

	m2r := b.Markers2Reads()
	if len(m2r["mA"]) != 2 {
		t.Errorf("mA reads: got %d, want 2", len(m2r["mA"]))
	}
	if len(m2r["mB"]) != 1 {
		t.Errorf("mB reads: got %d, want 1", len(m2r["mB"]))
	}
}

func TestReadFileMerging(t *testing.T) {
	f1 := writeFile(t, "s1.tsv",
		"r1\tmA\t"+evalueOK+"\t5\n"+
			"r2\tmB\t"+evalueOK+"\t7\n")
	f2 := writeFile(t, "s2.tsv",
		"r1\tmC\t"+evalueOK+"\t8\n") // better hit for r1 in the second file

	b := NewBestHits()
	if err := b.ReadFile(f1, 1e-6); err != nil {
		t.Fatal(err)
	}
	if err := b.ReadFile(f2, 1e-6); err != nil {
		t.Fatal(err)
	}

	if marker := b.Reads2Marker["r1"]; marker != "mC" {
		t.Errorf("r1 best hit: got %s, want mC", marker)
	}
	if marker := b.Reads2Marker["r2"]; marker != "mB" {
		t.Errorf("r2 best hit: got %s, want mB", marker)
	}
}

func TestAttachCounts(t *testing.T) {
	tree := buildTree(t, [][]string{
		{"k__Bacteria", "p__Firmicutes"},
		{"k__Bacteria", "p__Bacteroidetes"},
	})
	if err := tree.AddMarker("mA", "p__Firmicutes"); err != nil {
		t.Fatal(err)
	}
	cat := &Catalog{Lengths: map[string]int{"mA": 100, "mOrphan": 50}}

	b := NewBestHits()
	b.Add("r1\tmA", 1e-6)
	b.Add("r2\tmA", 1e-6)
	b.Add("r3\tmGone", 1e-6)   // not in the catalog
	b.Add("r4\tmOrphan", 1e-6) // in the catalog but not mapped to a clade

	unknown, err := AttachCounts(tree, cat, b)
	if err != nil {
		t.Fatal(err)
	}
	if unknown != 2 {
		t.Errorf("unknown markers: got %d, want 2", unknown)
	}

	node, _ := tree.StorageNode("mA")
	if node.MarkerReads["mA"] != 2 {
		t.Errorf("mA count: got %d, want 2", node.MarkerReads["mA"])
	}
}
