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
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestLoadMarkerLengths(t *testing.T) {
	file := writeFile(t, "markers.len.tsv",
		"# marker\tlength\n"+
			"m1\t100\n"+
			"m2\t250\n"+
			"m1\t100\n") // same-value duplicate is tolerated

	cat, err := LoadMarkerLengths(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Lengths) != 2 {
		t.Errorf("markers: got %d, want 2", len(cat.Lengths))
	}
	if cat.Lengths["m2"] != 250 {
		t.Errorf("m2 length: got %d, want 250", cat.Lengths["m2"])
	}
	if cat.TotalLength() != 350 {
		t.Errorf("TotalLength: got %d, want 350", cat.TotalLength())
	}
}

func TestLoadMarkerLengthsConflict(t *testing.T) {
	file := writeFile(t, "markers.len.tsv",
		"m1\t100\n"+
			"m1\t200\n")

	if _, err := LoadMarkerLengths(file); err == nil {
		t.Error("expected error on conflicting duplicate lengths")
	}
}

func TestLoadMarkerLengthsInvalid(t *testing.T) {
	for _, content := range []string{
		"m1\n",        // missing field
		"m1\t100\tx\n", // extra field
		"m1\t0\n",     // non-positive length
		"m1\t-5\n",
		"m1\tabc\n",
	} {
		file := writeFile(t, "markers.len.tsv", content)
		if _, err := LoadMarkerLengths(file); err == nil {
			t.Errorf("content %q: expected error", content)
		}
	}
}

func TestLoadMarkerToClade(t *testing.T) {
	tree := buildTree(t, [][]string{
		{"k__Bacteria", "p__Firmicutes"},
	})

	file := writeFile(t, "markers2clade.tsv",
		"m1\tp__Firmicutes\n"+
			"m2\tk__Bacteria\n")

	n, err := LoadMarkerToClade(file, tree)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("markers: got %d, want 2", n)
	}
	if tree.NumMarkers() != 2 {
		t.Errorf("NumMarkers: got %d, want 2", tree.NumMarkers())
	}

	// declared markers contribute a zero count even before any read hits
	node, err := tree.StorageNode("m1")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := node.MarkerReads["m1"]; !ok || n != 0 {
		t.Errorf("m1 count: got %d (present: %v), want 0", n, ok)
	}
}

func TestLoadMarkerToCladeUnknown(t *testing.T) {
	tree := buildTree(t, [][]string{{"k__Bacteria"}})

	file := writeFile(t, "markers2clade.tsv", "m1\tp__Nope\n")
	if _, err := LoadMarkerToClade(file, tree); err == nil {
		t.Error("expected error on unknown clade")
	}
}
