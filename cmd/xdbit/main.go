package main

/*
xdbit turns tagged, aligned reads from a combinatorial spatial
barcoding experiment into a spot-by-gene expression matrix.

The surrounding pipeline trims, aligns, and tags reads with external
tools; xdbit picks up where they leave off:

   xdbit legend -barcodes=barcodes.csv -wells=wells.csv -out=legend.tsv
   xdbit count -legend=legend.tsv -out=matrix.tsv.gz tagged.bam
*/

import (
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/jiangfuqing/xDBiT/spatial"
	"v.io/x/lib/cmdline"
)

func newCmdLegend() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "legend",
		Short: "Fill the coordinate columns of a barcode table",
		Long: `
Merge a bare well-barcode table with the well-coordinate assignment
table (column pairs X/X_Well, Y/Y_Well, Z/Z_Well) into a complete
legend usable by 'xdbit count'.`,
	}
	barcodesFlag := cmd.Flags.String("barcodes", "", "Well-barcode table (WellPosition, Name, Barcode)")
	wellsFlag := cmd.Flags.String("wells", "", "Well-coordinate assignment table")
	outFlag := cmd.Flags.String("out", "", "Output legend path")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("legend takes no positional arguments, got %v", argv)
		}
		if *barcodesFlag == "" || *wellsFlag == "" || *outFlag == "" {
			return fmt.Errorf("legend requires -barcodes, -wells, and -out")
		}
		return runLegend(*barcodesFlag, *wellsFlag, *outFlag)
	})
	return cmd
}

func newCmdCount() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "count",
		Short:    "Resolve spot barcodes and count molecules",
		ArgsName: "input.bam",
		Long: `
Stream a tagged, aligned BAM, correct each read's round barcodes
against the legend, deduplicate UMIs per spot and gene, and write the
sparse spot-by-gene count matrix.`,
	}
	opts := spatial.DefaultOpts
	legendFlag := cmd.Flags.String("legend", "", "Legend table (from 'xdbit legend')")
	outFlag := cmd.Flags.String("out", "matrix.tsv.gz", "Output matrix path; '.gz' gzips")
	filteredFlag := cmd.Flags.String("filtered-bam", "", "Optional output BAM of kept reads re-tagged with corrected coordinates")
	summaryFlag := cmd.Flags.String("summary", "", "Optional run summary path (also logged)")
	metricFlag := cmd.Flags.String("metric", opts.Metric.String(), "Barcode distance metric: hamming or levenshtein")
	cmd.Flags.IntVar(&opts.MaxBarcodeDist, "max-barcode-dist", opts.MaxBarcodeDist, "Maximum edit distance for barcode correction")
	cmd.Flags.IntVar(&opts.MaxUMIDist, "max-umi-dist", opts.MaxUMIDist, "Maximum edit distance for UMI merging")
	cmd.Flags.IntVar(&opts.MaxUMIsPerSpotGene, "max-umis-per-spot-gene", opts.MaxUMIsPerSpotGene, "Warn when a spot/gene key exceeds this many UMIs")
	cmd.Flags.IntVar(&opts.MinMapQ, "min-mapq", opts.MinMapQ, "Skip reads below this mapping quality")
	cmd.Flags.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Number of correction workers; 0 = NumCPU")
	cmd.Flags.StringVar(&opts.TagGene, "gene-tag", opts.TagGene, "Aux tag carrying the gene assignment")
	cmd.Flags.StringVar(&opts.TagUMI, "umi-tag", opts.TagUMI, "Aux tag carrying the UMI")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("count takes one input BAM argument, got %v", argv)
		}
		if *legendFlag == "" {
			return fmt.Errorf("count requires -legend")
		}
		metric, err := spatial.ParseMetric(*metricFlag)
		if err != nil {
			return err
		}
		opts.Metric = metric
		return runCount(argv[0], *legendFlag, *outFlag, *filteredFlag, *summaryFlag, opts)
	})
	return cmd
}

func runLegend(barcodesPath, wellsPath, outPath string) (err error) {
	ctx := vcontext.Background()
	assignment, err := spatial.LoadWellAssignment(ctx, wellsPath)
	if err != nil {
		return err
	}
	barcodes, err := spatial.ReadTable(ctx, barcodesPath)
	if err != nil {
		return err
	}
	filled, err := assignment.Fill(barcodes)
	if err != nil {
		return err
	}
	// Validate the result before writing anything.
	legend, err := spatial.ParseLegend(filled)
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, outPath)
	if err != nil {
		return err
	}
	once := errors.Once{}
	_, werr := out.Writer(ctx).Write(filled)
	once.Set(werr)
	once.Set(out.Close(ctx))
	if err := once.Err(); err != nil {
		return err
	}
	log.Printf("wrote legend with rounds %v to %s", legend.Rounds(), outPath)
	return nil
}

func runCount(bamPath, legendPath, outPath, filteredPath, summaryPath string, opts spatial.Opts) (err error) {
	ctx := vcontext.Background()
	legend, err := spatial.LoadLegend(ctx, legendPath)
	if err != nil {
		return err
	}
	log.Printf("legend loaded: rounds %v", legend.Rounds())

	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	var rd io.Reader = in.Reader(ctx)
	src, err := spatial.NewBAMSource(rd, opts.Parallelism)
	if err != nil {
		return err
	}

	pipeline := &spatial.Pipeline{
		Legend: legend,
		Opts:   opts,
		Source: src,
	}
	var (
		filteredFile file.File
		sink         *spatial.BAMSink
	)
	if filteredPath != "" {
		if filteredFile, err = file.Create(ctx, filteredPath); err != nil {
			return err
		}
		if sink, err = spatial.NewBAMSink(filteredFile.Writer(ctx), src.Header(), opts.Parallelism); err != nil {
			return err
		}
		pipeline.Sink = sink
	}

	result, runErr := pipeline.Run(ctx)
	once := errors.Once{}
	once.Set(runErr)
	once.Set(src.Close())
	if sink != nil {
		once.Set(sink.Close())
		once.Set(filteredFile.Close(ctx))
	}
	if err := once.Err(); err != nil {
		return err
	}

	if err := result.Matrix.Write(outPath); err != nil {
		return err
	}
	if err := result.Stats.Summary(os.Stderr, legend.Rounds()); err != nil {
		return err
	}
	if summaryPath != "" {
		f, err := os.Create(summaryPath)
		if err != nil {
			return err
		}
		werr := result.Stats.Summary(f, legend.Rounds())
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return werr
		}
	}
	return nil
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "xdbit",
		Short:    "Spatial barcode resolution and expression counting",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdLegend(),
			newCmdCount(),
		},
	})
}
