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
	"io"
	"os"
	"path/filepath"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"

	"github.com/taxprof/taxprof/tax"
)

// canonical file names inside a database directory.
const (
	dbTaxonomyFile = "taxonomy.tsv.gz"
	dbLengthsFile  = "markers.len.tsv.gz"
	dbMappingFile  = "markers2clade.tsv.gz"
)

var makedbCmd = &cobra.Command{
	Use:   "makedb",
	Short: "Build a marker database directory from reference files",
	Long: `Build a marker database directory from reference files

The three reference files are validated against each other, copied
into the output directory (gzip-compressed), and described by a
metadata file (` + dbInfoFile + `) so that "taxprof profile" only needs
-d/--db-dir.

Examples:
  taxprof makedb -x taxonomy.tsv -l markers.len.tsv \
      -m markers2clade.tsv -O ~/.taxprof/db -a mpa_v20
`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		timeStart := time.Now()
		defer func() {
			if opt.Verbose || opt.Log2File {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		taxonomyFile := getFlagString(cmd, "taxonomy")
		lengthsFile := getFlagString(cmd, "marker-lengths")
		mappingFile := getFlagString(cmd, "marker-to-clade")
		if taxonomyFile == "" || lengthsFile == "" || mappingFile == "" {
			checkError(errors.New("flags -x/--taxonomy, -l/--marker-lengths and -m/--marker-to-clade are all needed"))
		}

		outDir := getFlagString(cmd, "out-dir")
		if outDir == "" {
			checkError(errors.New("flag -O/--out-dir needed"))
		}
		alias := getFlagString(cmd, "alias")
		if alias == "" {
			alias = filepath.Base(filepath.Clean(outDir))
		}
		force := getFlagBool(cmd, "force")

		// validate the reference files before copying anything
		if opt.Verbose || opt.Log2File {
			log.Infof("loading taxonomy from: %s", taxonomyFile)
		}
		tree, err := tax.ReadTaxonomy(taxonomyFile)
		checkError(err)
		if opt.Verbose || opt.Log2File {
			log.Infof("  %s clades loaded", humanize.Comma(int64(tree.NumClades())))
			log.Infof("loading marker lengths from: %s", lengthsFile)
		}
		cat, err := tax.LoadMarkerLengths(lengthsFile)
		checkError(err)
		nMarkers, err := tax.LoadMarkerToClade(mappingFile, tree)
		checkError(err)
		if opt.Verbose || opt.Log2File {
			log.Infof("  %s markers loaded, %s bp in total",
				humanize.Comma(int64(nMarkers)), humanize.Comma(int64(cat.TotalLength())))
		}

		makeOutDir(outDir, force)

		checkError(copyDataFile(taxonomyFile, filepath.Join(outDir, dbTaxonomyFile), opt.CompressionLevel))
		checkError(copyDataFile(lengthsFile, filepath.Join(outDir, dbLengthsFile), opt.CompressionLevel))
		checkError(copyDataFile(mappingFile, filepath.Join(outDir, dbMappingFile), opt.CompressionLevel))

		info := MarkerDBInfo{
			Version: MarkerDBVersion,
			Alias:   alias,

			TaxonomyFile: dbTaxonomyFile,
			LengthsFile:  dbLengthsFile,
			MappingFile:  dbMappingFile,

			NumClades:         tree.NumClades(),
			NumMarkers:        nMarkers,
			TotalMarkerLength: cat.TotalLength(),
		}
		_, err = info.WriteTo(outDir)
		checkError(err)

		if opt.Verbose || opt.Log2File {
			log.Infof("marker database saved to: %s", outDir)
			log.Infof("  %s", info)
		}
	},
}

// copyDataFile re-compresses a reference file into a database
// directory, transparently decompressing gzipped sources.
func copyDataFile(src, dst string, level int) error {
	r, err := xopen.Ropen(src)
	if err != nil {
		return errors.Wrap(err, src)
	}
	defer r.Close()

	outfh, gw, w, err := outStream(dst, gzipped(dst), level)
	if err != nil {
		return errors.Wrap(err, dst)
	}
	defer func() {
		outfh.Flush()
		if gw != nil {
			gw.Close()
		}
		w.Close()
	}()

	_, err = io.Copy(outfh, r)
	if err != nil {
		return errors.Wrap(err, dst)
	}
	return nil
}

func init() {
	RootCmd.AddCommand(makedbCmd)

	makedbCmd.Flags().StringP("taxonomy", "x", "",
		formatFlagUsage(`Taxonomy file, one tab-separated rank chain per line.`))

	makedbCmd.Flags().StringP("marker-lengths", "l", "",
		formatFlagUsage(`Marker length file: marker_id <tab> length.`))

	makedbCmd.Flags().StringP("marker-to-clade", "m", "",
		formatFlagUsage(`Marker-to-clade mapping file: marker_id <tab> clade_name.`))

	makedbCmd.Flags().StringP("out-dir", "O", "",
		formatFlagUsage(`Output database directory.`))

	makedbCmd.Flags().StringP("alias", "a", "",
		formatFlagUsage(`Database alias, default: base name of -O/--out-dir.`))

	makedbCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite existing output directory.`))

	makedbCmd.SetUsageTemplate(usageTemplate("-x <taxonomy> -l <marker lengths> -m <marker-to-clade> -O <out dir>"))
}
