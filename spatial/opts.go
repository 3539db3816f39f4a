package spatial

import (
	"fmt"
	"runtime"
)

// Metric selects the string distance used for barcode and UMI
// correction.
type Metric int

const (
	// MetricHamming counts substitutions only. Barcode fragments are
	// extracted at fixed read offsets, so substitutions dominate and
	// Hamming is the default.
	MetricHamming Metric = iota
	// MetricLevenshtein also tolerates indels.
	MetricLevenshtein
)

func (m Metric) String() string {
	switch m {
	case MetricHamming:
		return "hamming"
	case MetricLevenshtein:
		return "levenshtein"
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

// ParseMetric parses "hamming" or "levenshtein".
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "hamming":
		return MetricHamming, nil
	case "levenshtein":
		return MetricLevenshtein, nil
	}
	return 0, fmt.Errorf("unknown distance metric %q (want hamming or levenshtein)", s)
}

// Opts configures the barcode-to-matrix pipeline.
type Opts struct {
	// Metric is the distance used for barcode correction.
	Metric Metric
	// MaxBarcodeDist is the maximum edit distance at which an observed
	// barcode fragment snaps to a legend barcode. The minimum-distance
	// candidate must additionally be unique; ties are rejected as
	// ambiguous. The curated barcode sets are mutually well separated,
	// so 1 recovers most single-substitution errors without false
	// collapses.
	MaxBarcodeDist int
	// MaxUMIDist is the maximum edit distance at which a UMI is merged
	// into an already-registered UMI of the same (spot, gene) key.
	MaxUMIDist int
	// MaxUMIsPerSpotGene bounds the per-(spot, gene) UMI list. Exceeding
	// it suggests an index collision or barcode leakage; it is logged
	// once per key and counting continues.
	MaxUMIsPerSpotGene int
	// MinMapQ drops reads below this mapping quality before barcode
	// resolution. 0 keeps everything the aligner emitted.
	MinMapQ int

	// Parallelism is the number of correction workers; 0 means
	// runtime.NumCPU().
	Parallelism int
	// QueueLength is the capacity of the read queue feeding the
	// correction workers; the bound provides backpressure against the
	// reader.
	QueueLength int
	// LogEvery emits a progress line every this many input records.
	LogEvery int

	// Aux tags carrying the raw round barcodes, the UMI, and the gene
	// assignment on input records, and the combined spot tag written to
	// the optional filtered output.
	TagX, TagY, TagZ string
	TagUMI           string
	TagGene          string
	TagSpot          string
}

// DefaultOpts holds the documented defaults. Thresholds and the metric
// are deliberately configuration, not constants: reproducing a run
// requires knowing both.
var DefaultOpts = Opts{
	Metric:             MetricHamming,
	MaxBarcodeDist:     1,
	MaxUMIDist:         1,
	MaxUMIsPerSpotGene: 20000,
	MinMapQ:            0,
	Parallelism:        0,
	QueueLength:        64 * 1024,
	LogEvery:           500000,
	TagX:               "XX",
	TagY:               "XY",
	TagZ:               "XZ",
	TagUMI:             "XM",
	TagGene:            "GE",
	TagSpot:            "XC",
}

func (o *Opts) parallelism() int {
	if o.Parallelism > 0 {
		return o.Parallelism
	}
	return runtime.NumCPU()
}

func (o *Opts) queueLength() int {
	if o.QueueLength > 0 {
		return o.QueueLength
	}
	return DefaultOpts.QueueLength
}

// roundTag returns the aux tag holding round r's raw barcode fragment.
func (o *Opts) roundTag(r Round) string {
	switch r {
	case RoundX:
		return o.TagX
	case RoundY:
		return o.TagY
	case RoundZ:
		return o.TagZ
	}
	return ""
}
