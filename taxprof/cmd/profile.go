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
	"os"
	"regexp"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/taxprof/taxprof/tax"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Estimate clade relative abundances from marker alignments",
	Long: `Estimate clade relative abundances from marker alignments

Input:
  Tab-separated alignment records, either pre-resolved
      read_id <tab> marker_id
  or raw tabular aligner output (e.g. BLAST outfmt 6) where the
  second-to-last field is the e-value and the last one the bit-score.
  Records above -e/--max-evalue are ignored, aligner warning lines are
  skipped. For every read only the first maximum-score hit counts.

Abundance estimators (--stat):
  avg_g   summed reads over summed marker length
  avg_l   mean of per-marker read densities
  tavg_g  avg_g over markers trimmed by --stat-q at both ends (default)
  tavg_l  avg_l over the trimmed markers
  wavg_g  avg_g with extreme counts winsorized instead of trimmed
  wavg_l  avg_l with extreme densities winsorized
  med     median of per-marker densities after trimming

  A clade whose markers sum to less than --min-cu-len bases inherits
  the summed abundance of its children. A clade is never reported as
  less abundant than the sum of its children; the excess is surfaced
  as a "*_unclassified" entry one rank below.

Analysis types (-t):
  rel_ab             relative abundances (default)
  reads_map          read to clade assignment
  clade_profiles     per-clade normalized marker counts
  marker_ab_table    per-marker normalized counts, optionally
                     divided by --nreads
  marker_pres_table  markers with normalized count > --pres-th

Examples:
  1. Species-level profile from a BLAST tabular file:
       taxprof profile -d db/ --tax-lev s -o sample.profile sample.m8.gz
  2. All ranks, explicit reference files:
       taxprof profile -x taxonomy.tsv -l markers.len.tsv \
           -m markers2clade.tsv sample.tsv -o sample.profile
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

		var err error

		outFile := getFlagString(cmd, "out-prefix")
		sampleID := getFlagString(cmd, "sample-id")

		analysisType := getFlagString(cmd, "analysis-type")
		switch analysisType {
		case "rel_ab", "reads_map", "clade_profiles", "marker_ab_table", "marker_pres_table":
		default:
			checkError(fmt.Errorf("invalid value of -t/--analysis-type: %s", analysisType))
		}

		taxLev := getFlagString(cmd, "tax-lev")
		if len(taxLev) != 1 || !strings.ContainsAny(taxLev, "a"+tax.RankLetters) {
			checkError(fmt.Errorf("invalid value of --tax-lev: %s, available: a, %s", taxLev, strings.Join(strings.Split(tax.RankLetters, ""), ", ")))
		}
		rankPrefix := ""
		if taxLev != "a" {
			rankPrefix = taxLev + "__"
		}

		statName := getFlagString(cmd, "stat")
		kind, err := tax.ParseEstimator(statName)
		checkError(err)

		statQ := getFlagNonNegativeFloat64(cmd, "stat-q")
		if statQ >= 0.5 {
			checkError(fmt.Errorf("value of --stat-q should be in range of [0, 0.5): %v", statQ))
		}
		minCuLen := getFlagNonNegativeInt(cmd, "min-cu-len")
		maxEvalue := getFlagPositiveFloat64(cmd, "max-evalue")
		nReads := getFlagNonNegativeInt(cmd, "nreads")
		presTh := getFlagPositiveFloat64(cmd, "pres-th")

		// ---------------------------------------------------------------
		// input files

		inDir := getFlagString(cmd, "in-dir")
		reFileStr := getFlagString(cmd, "file-regexp")

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
		if inDir != "" {
			reFile, err := regexp.Compile(reFileStr)
			checkError(err)
			_files, err := getFileListFromDir(inDir, reFile, opt.NumCPUs)
			checkError(err)
			if len(files) == 1 && isStdin(files[0]) {
				files = _files
			} else {
				files = append(files, _files...)
			}
			if len(files) == 0 {
				checkError(fmt.Errorf("no files matching %s found in directory: %s", reFileStr, inDir))
			}
		}
		if opt.Verbose || opt.Log2File {
			log.Infof("taxprof v%s", VERSION)
			log.Info()
			log.Infof("  %d input file(s) given", len(files))
		}

		// ---------------------------------------------------------------
		// reference data

		taxonomyFile := getFlagString(cmd, "taxonomy")
		lengthsFile := getFlagString(cmd, "marker-lengths")
		mappingFile := getFlagString(cmd, "marker-to-clade")

		if taxonomyFile == "" || lengthsFile == "" || mappingFile == "" {
			dbDir := getFlagString(cmd, "db-dir")
			info, err := MarkerDBInfoFromDir(dbDir)
			checkError(err)
			if opt.Verbose || opt.Log2File {
				log.Infof("using marker database: %s", info)
			}
			if taxonomyFile == "" {
				taxonomyFile = info.TaxonomyPath()
			}
			if lengthsFile == "" {
				lengthsFile = info.LengthsPath()
			}
			if mappingFile == "" {
				mappingFile = info.MappingPath()
			}
		}

		if opt.Verbose || opt.Log2File {
			log.Infof("loading taxonomy from: %s", taxonomyFile)
		}
		tree, err := tax.ReadTaxonomy(taxonomyFile)
		checkError(err)
		if opt.Verbose || opt.Log2File {
			log.Infof("  %s clades loaded", humanize.Comma(int64(tree.NumClades())))
		}

		if opt.Verbose || opt.Log2File {
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

		// ---------------------------------------------------------------
		// best-hit assignment

		hits := tax.NewBestHits()

		showBar := (opt.Verbose || opt.Log2File) && len(files) > 1
		var pbs *mpb.Progress
		var bar *mpb.Bar
		if showBar {
			pbs = mpb.New(mpb.WithWidth(79), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(len(files)),
				mpb.BarStyle("[=>-]<+"),
				mpb.PrependDecorators(
					decor.Name("parsing file: ", decor.WC{W: len("parsing file: ") + 1, C: decor.DidentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.EwmaETA(decor.ET_STYLE_GO, 60),
				),
			)
		}

		for _, file := range files {
			if opt.Verbose || opt.Log2File {
				log.Infof("  parsing file: %s", file)
			}
			t := time.Now()
			checkError(hits.ReadFile(file, maxEvalue))
			if showBar {
				bar.Increment()
				bar.DecoratorEwmaUpdate(time.Since(t))
			}
		}
		if showBar {
			pbs.Wait()
		}

		if opt.Verbose || opt.Log2File {
			log.Infof("  %s reads assigned to %s records",
				humanize.Comma(int64(len(hits.Reads2Marker))), humanize.Comma(int64(hits.Records)))
			if hits.Filtered > 0 {
				log.Infof("  %s records filtered by e-value >= %g", humanize.Comma(int64(hits.Filtered)), maxEvalue)
			}
			if hits.Dropped > 0 {
				log.Warningf("  %s malformed records dropped", humanize.Comma(int64(hits.Dropped)))
			}
		}

		unknown, err := tax.AttachCounts(tree, cat, hits)
		checkError(err)
		if unknown > 0 {
			log.Warningf("%d markers not found in the reference data, skipped", unknown)
		}

		// ---------------------------------------------------------------
		// profiling

		profiler, err := tax.NewProfiler(tree, cat, tax.EstimatorConfig{
			Kind:                kind,
			QuantileFraction:    statQ,
			MinCumulativeLength: minCuLen,
		})
		checkError(err)

		outfh, gw, w, err := outStream(outFile, gzipped(outFile), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		if sampleID != "" {
			outfh.WriteString(fmt.Sprintf("#SampleID\t%s\n", sampleID))
		}

		switch analysisType {
		case "rel_ab":
			rows := profiler.RelativeAbundances(rankPrefix)
			sorts.Quicksort(relAbRows(rows))

			outfh.WriteString("#clade_name\trelative_abundance\n")
			for _, row := range rows {
				outfh.WriteString(fmt.Sprintf("%s\t%.5f\n", row.Clade, row.Value*100))
			}

		case "reads_map":
			rows, skipped := profiler.ReadsMap(hits)
			if skipped > 0 {
				log.Warningf("%d reads hitting unknown markers skipped", skipped)
			}
			outfh.WriteString("#read_id\tclade_name\n")
			for _, row := range rows {
				outfh.WriteString(fmt.Sprintf("%s\t%s\n", row.Read, row.Clade))
			}

		case "clade_profiles":
			outfh.WriteString("#clade_name\tmarker_id\tnormalized_reads\n")
			for _, profile := range profiler.CladeProfiles(rankPrefix) {
				for _, m := range profile.Markers {
					outfh.WriteString(fmt.Sprintf("%s\t%s\t%.5f\n", profile.Clade, m.Marker, m.Value))
				}
			}

		case "marker_ab_table":
			outfh.WriteString("#marker_id\tnormalized_reads\n")
			for _, m := range profiler.MarkerTable(nReads) {
				outfh.WriteString(fmt.Sprintf("%s\t%g\n", m.Marker, m.Value))
			}

		case "marker_pres_table":
			outfh.WriteString("#marker_id\tpresence\n")
			for _, marker := range profiler.PresentMarkers(presTh) {
				outfh.WriteString(fmt.Sprintf("%s\t1\n", marker))
			}
		}
	},
}

// relAbRows sorts descending by abundance; ties prefer fewer rank
// levels, then name, so the order is deterministic.
type relAbRows []tax.Abundance

func (r relAbRows) Len() int { return len(r) }
func (r relAbRows) Less(i, j int) bool {
	if r[i].Value != r[j].Value {
		return r[i].Value > r[j].Value
	}
	li := strings.Count(r[i].Clade, "|")
	lj := strings.Count(r[j].Clade, "|")
	if li != lj {
		return li < lj
	}
	return r[i].Clade < r[j].Clade
}
func (r relAbRows) Swap(i, j int) {
	r[i], r[j] = r[j], r[i]
}

func init() {
	RootCmd.AddCommand(profileCmd)

	profileCmd.Flags().StringP("out-prefix", "o", "-",
		formatFlagUsage(`Out file prefix ("-" for stdout).`))

	profileCmd.Flags().StringP("sample-id", "s", "",
		formatFlagUsage(`Sample ID in result file.`))

	profileCmd.Flags().StringP("analysis-type", "t", "rel_ab",
		formatFlagUsage(`Analysis type. Available values: rel_ab, reads_map, clade_profiles, marker_ab_table, marker_pres_table.`))

	profileCmd.Flags().StringP("tax-lev", "", "a",
		formatFlagUsage(`Taxonomic level to report: a (all), or one of k, p, c, o, f, g, s.`))

	profileCmd.Flags().StringP("stat", "", "tavg_g",
		formatFlagUsage(`Abundance estimator, type "taxprof profile -h" for details. Available values: avg_g, avg_l, tavg_g, tavg_l, wavg_g, wavg_l, med.`))

	profileCmd.Flags().Float64P("stat-q", "", 0.1,
		formatFlagUsage(`Quantile fraction trimmed/winsorized at each end by the robust estimators. Range: [0, 0.5).`))

	profileCmd.Flags().IntP("min-cu-len", "", 2000,
		formatFlagUsage(`Minimal summed marker length of a clade for using its own markers instead of its children.`))

	profileCmd.Flags().Float64P("max-evalue", "e", 1e-6,
		formatFlagUsage(`Maximal e-value of an alignment record.`))

	profileCmd.Flags().IntP("nreads", "", 0,
		formatFlagUsage(`Total number of reads in the sample, for normalizing marker_ab_table. 0 for no normalization.`))

	profileCmd.Flags().Float64P("pres-th", "", 1.0,
		formatFlagUsage(`Presence threshold of normalized counts for marker_pres_table.`))

	// reference data
	profileCmd.Flags().StringP("db-dir", "d", defaultDBDir,
		formatFlagUsage(`Marker database directory created by "taxprof makedb".`))

	profileCmd.Flags().StringP("taxonomy", "x", "",
		formatFlagUsage(`Taxonomy file (tab-separated rank chains), overrides -d/--db-dir.`))

	profileCmd.Flags().StringP("marker-lengths", "l", "",
		formatFlagUsage(`Marker length file, overrides -d/--db-dir.`))

	profileCmd.Flags().StringP("marker-to-clade", "m", "",
		formatFlagUsage(`Marker-to-clade mapping file, overrides -d/--db-dir.`))

	// input
	profileCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing alignment files, with regular expression -r/--file-regexp.`))

	profileCmd.Flags().StringP("file-regexp", "r", `\.(tsv|txt|m8|b6)(\.gz)?$`,
		formatFlagUsage(`Regular expression for matching alignment files in -I/--in-dir.`))

	profileCmd.SetUsageTemplate(usageTemplate("[-d <db dir>] [-t <analysis type>] [-o <out file>] <alignment files>"))
}
