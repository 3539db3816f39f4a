package spatial

import (
	"io"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// BAMSource adapts a BAM stream to RecordSource. The input need not be
// coordinate-sorted: every record is visited once, in file order, which
// is the order that fixes UMI clustering.
type BAMSource struct {
	r *bam.Reader
}

// NewBAMSource opens a BAM stream with the given decompression
// parallelism (0 picks the library default).
func NewBAMSource(r io.Reader, parallelism int) (*BAMSource, error) {
	br, err := bam.NewReader(r, parallelism)
	if err != nil {
		return nil, err
	}
	return &BAMSource{r: br}, nil
}

// Header returns the BAM header, for constructing a sink over the same
// reference set.
func (s *BAMSource) Header() *sam.Header { return s.r.Header() }

// Next implements RecordSource.
func (s *BAMSource) Next() (*sam.Record, error) { return s.r.Read() }

// Close closes the underlying reader.
func (s *BAMSource) Close() error { return s.r.Close() }

// BAMSink writes kept, re-tagged records to a filtered BAM.
type BAMSink struct {
	w *bam.Writer
}

// NewBAMSink creates a BAM writer sharing the source header.
func NewBAMSink(w io.Writer, header *sam.Header, parallelism int) (*BAMSink, error) {
	bw, err := bam.NewWriter(w, header, parallelism)
	if err != nil {
		return nil, err
	}
	return &BAMSink{w: bw}, nil
}

// Write implements RecordSink.
func (s *BAMSink) Write(rec *sam.Record) error { return s.w.Write(rec) }

// Close flushes and closes the BAM stream.
func (s *BAMSink) Close() error { return s.w.Close() }
