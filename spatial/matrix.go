package spatial

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// matrixKey addresses one cell of the sparse matrix.
type matrixKey struct {
	spot SpotID
	gene string
}

// Entry is one non-zero cell of the count matrix.
type Entry struct {
	Spot  SpotID
	Gene  string
	Count uint32
}

// CountMatrix is the frozen spot-by-gene molecule count matrix. Only
// non-zero cells are stored; absence means zero. Entries are sorted by
// x, y, z, gene, so serialization is deterministic regardless of
// observation order.
type CountMatrix struct {
	hasZ    bool
	entries []Entry
}

// Entries returns the non-zero cells in sorted order.
func (m *CountMatrix) Entries() []Entry { return m.entries }

// HasZ reports whether spot identities carry a z axis.
func (m *CountMatrix) HasZ() bool { return m.hasZ }

// NumSpots returns the number of distinct spots with at least one
// molecule.
func (m *CountMatrix) NumSpots() int {
	spots := map[SpotID]struct{}{}
	for _, e := range m.entries {
		spots[e.Spot] = struct{}{}
	}
	return len(spots)
}

// NumGenes returns the number of distinct genes with at least one
// molecule.
func (m *CountMatrix) NumGenes() int {
	genes := map[string]struct{}{}
	for _, e := range m.entries {
		genes[e.Gene] = struct{}{}
	}
	return len(genes)
}

// Assembler accumulates per-spot, per-gene molecule counts. It grows
// monotonically until Finalize freezes it. Not safe for concurrent use;
// the pipeline gives it a single owning goroutine.
type Assembler struct {
	hasZ   bool
	counts map[matrixKey]uint32
	frozen bool
}

// NewAssembler returns an empty assembler. hasZ fixes the axis set of
// every spot identity it will accept.
func NewAssembler(hasZ bool) *Assembler {
	return &Assembler{hasZ: hasZ, counts: map[matrixKey]uint32{}}
}

// Increment adds one molecule to (spot, gene).
func (a *Assembler) Increment(spot SpotID, gene string) {
	if a.frozen {
		panic("Increment after Finalize")
	}
	if spot.HasZ != a.hasZ {
		panic(fmt.Sprintf("spot %s axis set does not match the assembler (hasZ=%v)", spot, a.hasZ))
	}
	a.counts[matrixKey{spot: spot, gene: gene}]++
}

// Finalize freezes the assembler and returns the sorted sparse matrix.
func (a *Assembler) Finalize() *CountMatrix {
	a.frozen = true
	m := &CountMatrix{hasZ: a.hasZ, entries: make([]Entry, 0, len(a.counts))}
	for k, c := range a.counts {
		m.entries = append(m.entries, Entry{Spot: k.spot, Gene: k.gene, Count: c})
	}
	sort.Slice(m.entries, func(i, j int) bool {
		ei, ej := m.entries[i], m.entries[j]
		if ei.Spot.X != ej.Spot.X {
			return ei.Spot.X < ej.Spot.X
		}
		if ei.Spot.Y != ej.Spot.Y {
			return ei.Spot.Y < ej.Spot.Y
		}
		if ei.Spot.Z != ej.Spot.Z {
			return ei.Spot.Z < ej.Spot.Z
		}
		return ei.Gene < ej.Gene
	})
	return m
}

// WriteTo writes the matrix as TSV: one row per non-zero cell, spot
// coordinate columns in fixed axis order (X, Y, then Z if present),
// then the gene and the count.
func (m *CountMatrix) WriteTo(w io.Writer) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("X")
	tw.WriteString("Y")
	if m.hasZ {
		tw.WriteString("Z")
	}
	tw.WriteString("GENE")
	tw.WriteString("COUNT")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, e := range m.entries {
		tw.WriteUint32(uint32(e.Spot.X))
		tw.WriteUint32(uint32(e.Spot.Y))
		if m.hasZ {
			tw.WriteUint32(uint32(e.Spot.Z))
		}
		tw.WriteString(e.Gene)
		tw.WriteUint32(e.Count)
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Write persists the matrix at path, gzipping when the path ends in
// ".gz". The matrix is written to a temporary file next to the
// destination and renamed into place only on success, so an aborted run
// never leaves a partially-written matrix behind.
func (m *CountMatrix) Write(path string) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".matrix-*")
	if err != nil {
		return errors.Wrapf(err, "write matrix %s", path)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	var w io.Writer = tmp
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if err = m.WriteTo(w); err != nil {
		return errors.Wrapf(err, "write matrix %s", path)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return errors.Wrapf(err, "write matrix %s", path)
		}
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "write matrix %s", path)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "write matrix %s", path)
	}
	log.Printf("wrote %d matrix entries (%d spots, %d genes) to %s",
		len(m.entries), m.NumSpots(), m.NumGenes(), path)
	return nil
}

// ParseMatrix reloads a matrix written by WriteTo. The axis set is
// recovered from the header.
func ParseMatrix(data []byte) (*CountMatrix, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		return nil, errors.New("matrix: empty input")
	}
	header := strings.Split(sc.Text(), "\t")
	var hasZ bool
	switch {
	case len(header) == 4 && header[0] == "X" && header[1] == "Y" &&
		header[2] == "GENE" && header[3] == "COUNT":
		hasZ = false
	case len(header) == 5 && header[0] == "X" && header[1] == "Y" &&
		header[2] == "Z" && header[3] == "GENE" && header[4] == "COUNT":
		hasZ = true
	default:
		return nil, errors.Errorf("matrix: unrecognized header %q", sc.Text())
	}
	m := &CountMatrix{hasZ: hasZ}
	line := 1
	for sc.Scan() {
		line++
		cells := strings.Split(sc.Text(), "\t")
		if len(cells) != len(header) {
			return nil, errors.Errorf("matrix line %d: %d columns, want %d", line, len(cells), len(header))
		}
		var e Entry
		var err error
		if e.Spot.X, err = strconv.Atoi(cells[0]); err != nil {
			return nil, errors.Wrapf(err, "matrix line %d", line)
		}
		if e.Spot.Y, err = strconv.Atoi(cells[1]); err != nil {
			return nil, errors.Wrapf(err, "matrix line %d", line)
		}
		next := 2
		if hasZ {
			if e.Spot.Z, err = strconv.Atoi(cells[2]); err != nil {
				return nil, errors.Wrapf(err, "matrix line %d", line)
			}
			e.Spot.HasZ = true
			next = 3
		}
		e.Gene = cells[next]
		count, err := strconv.ParseUint(cells[next+1], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "matrix line %d", line)
		}
		e.Count = uint32(count)
		m.entries = append(m.entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadMatrix reads a matrix from path, transparently decompressing
// gzipped files.
func ReadMatrix(ctx context.Context, path string) (*CountMatrix, error) {
	data, err := ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseMatrix(data)
}
