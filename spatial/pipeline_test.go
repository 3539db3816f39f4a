package spatial

import (
	"context"
	"io"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource feeds in-memory records to the pipeline.
type sliceSource struct {
	recs []*sam.Record
	next int
}

func (s *sliceSource) Next() (*sam.Record, error) {
	if s.next >= len(s.recs) {
		return nil, io.EOF
	}
	r := s.recs[s.next]
	s.next++
	return r, nil
}

// sliceSink collects the kept, re-tagged records.
type sliceSink struct {
	recs []*sam.Record
}

func (s *sliceSink) Write(r *sam.Record) error {
	s.recs = append(s.recs, r)
	return nil
}

func newTestRecord(t *testing.T, name string, mapq byte, flags sam.Flags, tags map[string]string) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.MapQ = mapq
	r.Flags = flags
	for k, v := range tags {
		aux, err := sam.NewAux(sam.NewTag(k), v)
		require.NoError(t, err)
		r.AuxFields = append(r.AuxFields, aux)
	}
	return r
}

// pipelineLegend maps X wells A01-A04 to coordinates 46-49 plus B01 to
// 48, and Y wells A01/B01 to 0/1. The well named B1 resolves to x=48
// and y=1 as the plate layout prescribes.
const pipelineLegend = `WellPosition,Name,Barcode,X,Y
A1,Bc_1,AACGTGAT,46,
A2,Bc_2,AAACATCG,47,
A3,Bc_3,ATGCCTAA,49,
B1,Bc_9,AGTGGTCA,48,
A4,Bc_4,TTTTTTTT,,0
B2,Bc_10,ACCACTGT,,1
`

func testPipelineLegend(t *testing.T) *Legend {
	l, err := ParseLegend([]byte(pipelineLegend))
	require.NoError(t, err)
	return l
}

func runPipeline(t *testing.T, l *Legend, opts Opts, recs []*sam.Record, sink RecordSink) *Result {
	p := &Pipeline{
		Legend: l,
		Opts:   opts,
		Source: &sliceSource{recs: recs},
		Sink:   sink,
	}
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestPipelineScenario(t *testing.T) {
	l := testPipelineLegend(t)
	recs := []*sam.Record{
		newTestRecord(t, "read1", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
		// One substitution off read1's UMI: same molecule.
		newTestRecord(t, "read2", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "AAAT", "GE": "ACTB"}),
		newTestRecord(t, "read3", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "GGGG", "GE": "ACTB"}),
	}
	result := runPipeline(t, l, DefaultOpts, recs, nil)

	entries := result.Matrix.Entries()
	require.Equal(t, 1, len(entries))
	assert.Equal(t, Entry{Spot: SpotID{X: 48, Y: 1}, Gene: "ACTB", Count: 2}, entries[0])

	stats := result.Stats
	assert.Equal(t, 3, stats.TotalReads)
	assert.Equal(t, 3, stats.Kept)
	assert.Equal(t, 3, stats.AllExact)
	assert.Equal(t, 2, stats.Molecules)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 3, stats.Rounds[RoundX].Exact)
	assert.Equal(t, 3, stats.Rounds[RoundX].WellCounts["B01"])
	assert.Equal(t, 3, stats.Rounds[RoundY].WellCounts["B02"])
}

func TestPipelineCorrectionAndRejection(t *testing.T) {
	l := testPipelineLegend(t)
	recs := []*sam.Record{
		// One substitution in the X barcode: corrected to B01.
		newTestRecord(t, "corrected", 60, 0, map[string]string{
			"XX": "AGTGGTCT", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
		// X barcode beyond threshold: dropped.
		newTestRecord(t, "rejected", 60, 0, map[string]string{
			"XX": "AGTGGGGG", "XY": "ACCACTGT", "XM": "CCCC", "GE": "ACTB"}),
		// Missing Y tag: cannot be spatially placed.
		newTestRecord(t, "unplaced", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XM": "TTTT", "GE": "ACTB"}),
		// Placed but no gene assignment.
		newTestRecord(t, "nogene", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "GGTT"}),
	}
	result := runPipeline(t, l, DefaultOpts, recs, nil)

	stats := result.Stats
	assert.Equal(t, 4, stats.TotalReads)
	assert.Equal(t, 1, stats.Kept)
	assert.Equal(t, 1, stats.BarcodeRejected)
	assert.Equal(t, 1, stats.SpotUnresolved)
	assert.Equal(t, 1, stats.NoGene)
	// AllExact tallies barcode resolution only; the gene-less read still
	// counts because both its barcodes matched verbatim.
	assert.Equal(t, 1, stats.AllExact)
	assert.Equal(t, 1, stats.Rounds[RoundX].Corrected)
	assert.Equal(t, 1, stats.Rounds[RoundX].NoMatch)

	entries := result.Matrix.Entries()
	require.Equal(t, 1, len(entries))
	assert.Equal(t, Entry{Spot: SpotID{X: 48, Y: 1}, Gene: "ACTB", Count: 1}, entries[0])
}

func TestPipelineSkipsSecondaryAndLowMapQ(t *testing.T) {
	l := testPipelineLegend(t)
	opts := DefaultOpts
	opts.MinMapQ = 10
	recs := []*sam.Record{
		newTestRecord(t, "secondary", 60, sam.Secondary, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
		newTestRecord(t, "supplementary", 60, sam.Supplementary, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
		newTestRecord(t, "lowmapq", 3, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
		newTestRecord(t, "kept", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
	}
	result := runPipeline(t, l, opts, recs, nil)

	stats := result.Stats
	assert.Equal(t, 4, stats.TotalReads)
	assert.Equal(t, 2, stats.Secondary)
	assert.Equal(t, 1, stats.LowMapQ)
	assert.Equal(t, 1, stats.Kept)
	assert.Equal(t, 1, stats.Molecules)
}

func TestPipelineSinkRetagsKeptReads(t *testing.T) {
	l := testPipelineLegend(t)
	sink := &sliceSink{}
	recs := []*sam.Record{
		newTestRecord(t, "read1", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
		newTestRecord(t, "dropped", 60, 0, map[string]string{
			"XX": "NNNNNNNN", "XY": "ACCACTGT", "XM": "AAAA", "GE": "ACTB"}),
		newTestRecord(t, "read3", 60, 0, map[string]string{
			"XX": "AACGTGAT", "XY": "TTTTTTTT", "XM": "CCCC", "GE": "GAPDH"}),
	}
	result := runPipeline(t, l, DefaultOpts, recs, sink)
	assert.Equal(t, 2, result.Stats.Kept)

	// Kept records come out in input order, re-tagged with resolved
	// coordinates and the combined spot tag.
	require.Equal(t, 2, len(sink.recs))
	assert.Equal(t, "read1", sink.recs[0].Name)
	assert.Equal(t, "read3", sink.recs[1].Name)

	tagOf := func(r *sam.Record, tag string) string {
		aux := r.AuxFields.Get(sam.NewTag(tag))
		require.NotNil(t, aux, tag)
		return aux.Value().(string)
	}
	assert.Equal(t, "48", tagOf(sink.recs[0], "XX"))
	assert.Equal(t, "1", tagOf(sink.recs[0], "XY"))
	assert.Equal(t, "48x1", tagOf(sink.recs[0], "XC"))
	assert.Equal(t, "46x0", tagOf(sink.recs[1], "XC"))
	// Unrelated tags survive the rewrite.
	assert.Equal(t, "AAAA", tagOf(sink.recs[0], "XM"))
}

// Deduplication is order-dependent first-wins clustering; the parallel
// pipeline must reproduce the single-threaded result for any worker
// count.
func TestPipelineDeterministicUnderParallelism(t *testing.T) {
	l := testPipelineLegend(t)
	umis := []string{"AAAA", "AAAT", "AATT", "ATTT", "GGGG", "GGGT", "CCCC"}
	var recs []*sam.Record
	for i := 0; i < 500; i++ {
		recs = append(recs, newTestRecord(t, "r", 60, 0, map[string]string{
			"XX": "AGTGGTCA", "XY": "ACCACTGT",
			"XM": umis[i%len(umis)], "GE": "ACTB"}))
	}
	var want []Entry
	for _, par := range []int{1, 2, 8} {
		opts := DefaultOpts
		opts.Parallelism = par
		opts.QueueLength = 16 // force reader/worker interleaving
		result := runPipeline(t, l, opts, recs, nil)
		if want == nil {
			want = result.Matrix.Entries()
			continue
		}
		assert.Equal(t, want, result.Matrix.Entries(), "parallelism=%d", par)
	}
}

func TestPipelineValidation(t *testing.T) {
	l := testPipelineLegend(t)
	p := &Pipeline{Opts: DefaultOpts, Source: &sliceSource{}}
	_, err := p.Run(context.Background())
	assert.Error(t, err)
	p = &Pipeline{Legend: l, Opts: DefaultOpts}
	_, err = p.Run(context.Background())
	assert.Error(t, err)
}

func TestPipelineEmptyInput(t *testing.T) {
	l := testPipelineLegend(t)
	result := runPipeline(t, l, DefaultOpts, nil, nil)
	assert.Equal(t, 0, result.Stats.TotalReads)
	assert.Equal(t, 0, len(result.Matrix.Entries()))
}
