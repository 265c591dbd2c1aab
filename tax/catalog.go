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
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/breader"
)

// Catalog is the static marker reference data: marker -> nucleotide length.
type Catalog struct {
	Lengths map[string]int
}

// TotalLength returns the summed length of all markers.
func (c *Catalog) TotalLength() int {
	var sum int
	for _, l := range c.Lengths {
		sum += l
	}
	return sum
}

type markerLength struct {
	Marker string
	Length int
}

// LoadMarkerLengths parses a tab-separated marker_id<tab>length file.
// Duplicated markers with the same length are tolerated (last one wins),
// conflicting duplicates are an error.
func LoadMarkerLengths(file string) (*Catalog, error) {
	fn := func(line string) (interface{}, bool, error) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" || line[0] == '#' {
			return nil, false, nil
		}
		items := strings.Split(line, "\t")
		if len(items) != 2 {
			return nil, false, fmt.Errorf("tax: invalid marker length record: %q", line)
		}
		length, err := strconv.Atoi(items[1])
		if err != nil || length <= 0 {
			return nil, false, fmt.Errorf("tax: invalid marker length: %q", items[1])
		}
		return markerLength{Marker: items[0], Length: length}, true, nil
	}
	reader, err := breader.NewBufferedReader(file, 4, 100, fn)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}

	cat := &Catalog{Lengths: make(map[string]int, 1<<10)}
	var ml markerLength
	var data interface{}
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			return nil, errors.Wrap(chunk.Err, file)
		}
		for _, data = range chunk.Data {
			ml = data.(markerLength)
			if old, ok := cat.Lengths[ml.Marker]; ok && old != ml.Length {
				return nil, fmt.Errorf("tax: conflicting lengths for marker %s: %d != %d", ml.Marker, old, ml.Length)
			}
			cat.Lengths[ml.Marker] = ml.Length
		}
	}
	return cat, nil
}

// LoadMarkerToClade parses a tab-separated marker_id<tab>clade_name file
// and registers every mapping on the tree, zero-initializing the marker
// count on the assigned storage node. A clade name absent from the
// taxonomy is a fatal error (ErrUnknownClade).
func LoadMarkerToClade(file string, t *Tree) (int, error) {
	fn := func(line string) (interface{}, bool, error) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" || line[0] == '#' {
			return nil, false, nil
		}
		items := strings.Split(line, "\t")
		if len(items) != 2 {
			return nil, false, fmt.Errorf("tax: invalid marker-to-clade record: %q", line)
		}
		return items, true, nil
	}
	reader, err := breader.NewBufferedReader(file, 4, 100, fn)
	if err != nil {
		return 0, errors.Wrap(err, file)
	}

	var n int
	var items []string
	var data interface{}
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			return n, errors.Wrap(chunk.Err, file)
		}
		for _, data = range chunk.Data {
			items = data.([]string)
			if err = t.AddMarker(items[0], items[1]); err != nil {
				return n, errors.Wrap(err, file)
			}
			n++
		}
	}
	return n, nil
}
