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

package cmd

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const dbInfoFile = "__db.yml"

// MarkerDBVersion is the version of the database layout.
const MarkerDBVersion uint8 = 1

// ErrVersionMismatch indicates mismatched database version
var ErrVersionMismatch = errors.New("taxprof/db: version mismatch")

var defaultDBDir string

func init() {
	if home, err := homedir.Dir(); err == nil {
		defaultDBDir = filepath.Join(home, ".taxprof", "db")
	}
}

// MarkerDBInfo is the metadata of a marker database directory written
// by "taxprof makedb".
type MarkerDBInfo struct {
	Version uint8  `yaml:"version"`
	Alias   string `yaml:"alias"`

	TaxonomyFile string `yaml:"taxonomy"`
	LengthsFile  string `yaml:"marker-lengths"`
	MappingFile  string `yaml:"marker-to-clade"`

	NumClades         int `yaml:"clades"`
	NumMarkers        int `yaml:"markers"`
	TotalMarkerLength int `yaml:"total-marker-length"`

	path string
}

func (i MarkerDBInfo) String() string {
	return fmt.Sprintf("taxprof marker database (v%d): %s, %d clades, %d markers, %d bp",
		i.Version, i.Alias, i.NumClades, i.NumMarkers, i.TotalMarkerLength)
}

// TaxonomyPath returns the absolute path of the taxonomy file.
func (i MarkerDBInfo) TaxonomyPath() string {
	return filepath.Join(i.path, i.TaxonomyFile)
}

// LengthsPath returns the absolute path of the marker length file.
func (i MarkerDBInfo) LengthsPath() string {
	return filepath.Join(i.path, i.LengthsFile)
}

// MappingPath returns the absolute path of the marker-to-clade file.
func (i MarkerDBInfo) MappingPath() string {
	return filepath.Join(i.path, i.MappingFile)
}

// MarkerDBInfoFromDir loads database metadata from a directory.
func MarkerDBInfoFromDir(dir string) (MarkerDBInfo, error) {
	info := MarkerDBInfo{}

	file := filepath.Join(dir, dbInfoFile)
	r, err := os.Open(file)
	if err != nil {
		return info, fmt.Errorf("fail to open marker database info file: %s", file)
	}

	data, err := ioutil.ReadAll(r)
	r.Close()
	if err != nil {
		return info, fmt.Errorf("fail to read marker database info file: %s", file)
	}

	err = yaml.Unmarshal(data, &info)
	if err != nil {
		return info, fmt.Errorf("fail to unmarshal marker database info")
	}

	if info.Version != MarkerDBVersion {
		return info, ErrVersionMismatch
	}

	p, _ := filepath.Abs(file)
	info.path = filepath.Dir(p)

	return info, nil
}

// WriteTo dumps the metadata into a database directory.
func (i MarkerDBInfo) WriteTo(dir string) (int, error) {
	data, err := yaml.Marshal(i)
	if err != nil {
		return 0, fmt.Errorf("fail to marshal marker database info")
	}

	file := filepath.Join(dir, dbInfoFile)
	w, err := os.Create(file)
	if err != nil {
		return 0, fmt.Errorf("fail to write marker database info file: %s", file)
	}
	var n int
	n, err = w.Write(data)
	if err != nil {
		return 0, fmt.Errorf("fail to write marker database info file: %s", file)
	}

	w.Close()
	return n, nil
}
