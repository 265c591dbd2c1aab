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
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/zeebo/wyhash"
)

// warningToken marks aligner warning lines interleaved in the output,
// which are skipped without error.
const warningToken = "Warning"

const wyhashSeed = 1

// BestHits holds the best-hit assignment of reads to markers: for every
// read the single hit with the maximum bit-score seen first.
type BestHits struct {
	// read -> best marker
	Reads2Marker map[string]string

	// read -> bit-score of the best hit
	scores map[string]float64

	// number of records dropped for malformed fields
	Dropped int
	// number of records filtered by the e-value threshold
	Filtered int
	// number of input records considered
	Records int
}

// NewBestHits returns an empty assignment.
func NewBestHits() *BestHits {
	return &BestHits{
		Reads2Marker: make(map[string]string, 1<<16),
		scores:       make(map[string]float64, 1<<16),
	}
}

// Add consumes one alignment line. Two-field records (read, marker) are
// pre-resolved single hits and unconditionally accepted. Records with
// three or more fields carry an e-value in the second-to-last field and
// a bit-score in the last one; they replace the current best hit only on
// a strictly greater score, so the first maximum wins. Malformed records
// are dropped silently, matching the tolerance of legacy aligner parsers.
func (b *BestHits) Add(line string, maxEvalue float64) {
	if line == "" || strings.HasPrefix(line, warningToken) {
		return
	}
	items := strings.Split(line, "\t")
	if len(items) < 2 {
		b.Dropped++
		return
	}
	b.Records++

	read, marker := items[0], items[1]

	if len(items) == 2 {
		b.Reads2Marker[read] = marker
		return
	}

	evalue, err := strconv.ParseFloat(items[len(items)-2], 64)
	if err != nil {
		b.Dropped++
		return
	}
	score, err := strconv.ParseFloat(items[len(items)-1], 64)
	if err != nil {
		b.Dropped++
		return
	}

	if evalue >= maxEvalue {
		b.Filtered++
		return
	}

	if best, ok := b.scores[read]; !ok || score > best {
		b.Reads2Marker[read] = marker
		b.scores[read] = score
	}
}

// Markers2Reads inverts the assignment into per-marker sets of distinct
// reads. Read ids are stored hashed to keep memory proportional to the
// number of distinct reads without retaining the id strings.
func (b *BestHits) Markers2Reads() map[string]map[uint64]struct{} {
	m2r := make(map[string]map[uint64]struct{}, 1<<10)
	for read, marker := range b.Reads2Marker {
		reads, ok := m2r[marker]
		if !ok {
			reads = make(map[uint64]struct{}, 8)
			m2r[marker] = reads
		}
		reads[wyhash.HashString(read, wyhashSeed)] = struct{}{}
	}
	return m2r
}

// ReadFile streams one alignment file ("-" for stdin, gzip transparent)
// into the assignment. Merging several files is safe: the best hit is a
// max-by-score reduction.
func (b *BestHits) ReadFile(file string, maxEvalue float64) error {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return errors.Wrap(err, file)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		b.Add(scanner.Text(), maxEvalue)
	}
	return errors.Wrap(scanner.Err(), file)
}

// ReadBestHits is a convenience wrapper for a single alignment file.
func ReadBestHits(file string, maxEvalue float64) (*BestHits, error) {
	b := NewBestHits()
	if err := b.ReadFile(file, maxEvalue); err != nil {
		return nil, err
	}
	return b, nil
}

// AttachCounts writes the per-marker distinct-read counts onto the
// storage nodes of the tree. Markers absent from the mapping or from the
// catalog are skipped and counted, tolerating reference-database drift.
func AttachCounts(t *Tree, cat *Catalog, hits *BestHits) (unknown int, err error) {
	var ok bool
	for marker, reads := range hits.Markers2Reads() {
		if _, ok = cat.Lengths[marker]; !ok {
			unknown++
			continue
		}
		ok, err = t.SetMarkerReads(marker, len(reads))
		if err != nil {
			return unknown, err
		}
		if !ok {
			unknown++
		}
	}
	return unknown, nil
}
