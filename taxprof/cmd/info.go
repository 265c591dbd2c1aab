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

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	prettytable "github.com/tatsushid/go-prettytable"

	"github.com/taxprof/taxprof/tax"
)

var rankNames = map[byte]string{
	'k': "kingdom",
	'p': "phylum",
	'c': "class",
	'o': "order",
	'f': "family",
	'g': "genus",
	's': "species",
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print information of a marker database",
	Long: `Print information of a marker database

Examples:
  taxprof info -d ~/.taxprof/db
`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		dbDir := getFlagString(cmd, "db-dir")

		info, err := MarkerDBInfoFromDir(dbDir)
		checkError(err)

		if opt.Verbose {
			log.Infof("loading taxonomy from: %s", info.TaxonomyPath())
		}
		tree, err := tax.ReadTaxonomy(info.TaxonomyPath())
		checkError(err)
		cat, err := tax.LoadMarkerLengths(info.LengthsPath())
		checkError(err)
		nMarkers, err := tax.LoadMarkerToClade(info.MappingPath(), tree)
		checkError(err)

		outFile := getFlagString(cmd, "out-prefix")
		outfh, gw, w, err := outStream(outFile, gzipped(outFile), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		lengths := make([]float64, 0, len(cat.Lengths))
		for _, l := range cat.Lengths {
			lengths = append(lengths, float64(l))
		}
		mean, stdev := MeanStdev(lengths)

		outfh.WriteString(fmt.Sprintf("database: %s (v%d)\n", info.Alias, info.Version))
		outfh.WriteString(fmt.Sprintf("path: %s\n", dbDir))
		outfh.WriteString(fmt.Sprintf("markers: %s\n", humanize.Comma(int64(nMarkers))))
		outfh.WriteString(fmt.Sprintf("total marker length: %s bp, %.1f ± %.1f bp per marker\n",
			humanize.Comma(int64(cat.TotalLength())), mean, stdev))
		outfh.WriteString("\n")

		tbl, err := prettytable.NewTable([]prettytable.Column{
			{Header: "rank"},
			{Header: "clades", AlignRight: true},
		}...)
		checkError(err)
		tbl.Separator = "  "

		for i, n := range tree.RankCounts() {
			letter := tax.RankLetters[i]
			tbl.AddRow(rankNames[letter], humanize.Comma(int64(n)))
		}
		outfh.Write(tbl.Bytes())
	},
}

func init() {
	RootCmd.AddCommand(infoCmd)

	infoCmd.Flags().StringP("db-dir", "d", defaultDBDir,
		formatFlagUsage(`Marker database directory created by "taxprof makedb".`))

	infoCmd.Flags().StringP("out-prefix", "o", "-",
		formatFlagUsage(`Out file prefix ("-" for stdout).`))

	infoCmd.SetUsageTemplate(usageTemplate("[-d <db dir>]"))
}
