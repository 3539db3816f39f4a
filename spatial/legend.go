package spatial

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// Round identifies one combinatorial barcoding round. Each round
// contributes one axis of a spot's spatial identity.
type Round int

const (
	// RoundX is the first barcoding round (x axis).
	RoundX Round = iota
	// RoundY is the second barcoding round (y axis).
	RoundY
	// RoundZ is the optional third round (tissue section / z axis).
	RoundZ

	numRounds
)

// String returns the single-letter name of the round ("X", "Y", "Z").
func (r Round) String() string {
	switch r {
	case RoundX:
		return "X"
	case RoundY:
		return "Y"
	case RoundZ:
		return "Z"
	}
	return fmt.Sprintf("Round(%d)", int(r))
}

// BarcodeEntry is one row of the legend for one round: a known barcode
// sequence, the plate well it was dispensed from, and the spatial
// coordinate assigned to that well. Entries are immutable once loaded.
type BarcodeEntry struct {
	Round Round
	Well  string
	Seq   string
	Coord int
}

// ConfigError reports a malformed or inconsistent legend or
// well-assignment table. It is fatal: no reads are processed when the
// configuration does not validate.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// Legend indexes the known barcodes of every round and the well to
// coordinate assignment. It is built once at startup and never mutated
// afterwards, so it is safe to share across worker goroutines.
type Legend struct {
	exact       [numRounds]map[string]*BarcodeEntry
	entries     [numRounds][]*BarcodeEntry
	seqLen      [numRounds]int
	wellToCoord [numRounds]map[string]int
	coordToWell [numRounds]map[int]string
	rounds      []Round
}

// Rounds returns the rounds present in the experiment design, in axis
// order (X, Y, then Z if present). A round with no coordinate-bearing
// barcodes is excluded from spot addressing.
func (l *Legend) Rounds() []Round { return l.rounds }

// HasRound reports whether round r is part of the design.
func (l *Legend) HasRound(r Round) bool { return len(l.entries[r]) > 0 }

// SeqLen returns the fixed barcode length of round r, or 0 if the round
// is not part of the design.
func (l *Legend) SeqLen(r Round) int { return l.seqLen[r] }

// Entries returns all barcode entries of round r.
func (l *Legend) Entries(r Round) []*BarcodeEntry { return l.entries[r] }

// Lookup returns the entry whose sequence matches seq exactly.
func (l *Legend) Lookup(r Round, seq string) (*BarcodeEntry, bool) {
	e, ok := l.exact[r][seq]
	return e, ok
}

// CoordOf maps a well position through the round's well-coordinate
// assignment.
func (l *Legend) CoordOf(r Round, well string) (int, bool) {
	c, ok := l.wellToCoord[r][NormalizeWell(well)]
	return c, ok
}

// WellOf is the reverse side of CoordOf.
func (l *Legend) WellOf(r Round, coord int) (string, bool) {
	w, ok := l.coordToWell[r][coord]
	return w, ok
}

// NormalizeWell canonicalizes a plate well position by zero-padding the
// column number to two digits ("B1" -> "B01"), matching the form used in
// plate layouts.
func NormalizeWell(well string) string {
	if len(well) < 2 {
		return well
	}
	row, col := well[:1], well[1:]
	if len(col) >= 2 {
		return strings.ToUpper(well)
	}
	return strings.ToUpper(row) + "0" + col
}

// splitTable splits a tabular file into rows of cells. The column
// separator is sniffed from the header line: tab wins over comma, so
// both TSV and the comma-separated legends produced by plate-layout
// spreadsheets load without conversion.
func splitTable(data []byte) ([][]string, string) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	sep := ","
	if len(lines) > 0 && strings.ContainsRune(lines[0], '\t') {
		sep = "\t"
	}
	var rows [][]string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, sep)
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows, sep
}

// headerIndex maps lower-cased column names to their positions.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(name)] = i
	}
	return idx
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// ParseLegend parses a well-barcode table. The table must carry
// WellPosition and Barcode columns plus one coordinate column per round
// (X, Y, optionally Z); extra columns are ignored. A row contributes an
// entry to every round whose coordinate cell is non-empty, so a single
// plate can serve several rounds.
func ParseLegend(data []byte) (*Legend, error) {
	rows, _ := splitTable(data)
	if len(rows) < 2 {
		return nil, configErrorf("legend: table has no data rows")
	}
	idx := headerIndex(rows[0])
	wellCol, ok := idx["wellposition"]
	if !ok {
		return nil, configErrorf("legend: missing WellPosition column in header %v", rows[0])
	}
	barcodeCol, ok := idx["barcode"]
	if !ok {
		return nil, configErrorf("legend: missing Barcode column in header %v", rows[0])
	}
	coordCol := [numRounds]int{-1, -1, -1}
	for r := RoundX; r < numRounds; r++ {
		if c, ok := idx[strings.ToLower(r.String())]; ok {
			coordCol[r] = c
		}
	}

	l := &Legend{}
	for r := RoundX; r < numRounds; r++ {
		l.exact[r] = map[string]*BarcodeEntry{}
		l.wellToCoord[r] = map[string]int{}
		l.coordToWell[r] = map[int]string{}
	}
	for n, row := range rows[1:] {
		line := n + 2 // 1-based, after header
		well := NormalizeWell(cell(row, wellCol))
		seq := strings.ToUpper(cell(row, barcodeCol))
		if well == "" || seq == "" {
			return nil, configErrorf("legend row %d: empty WellPosition or Barcode", line)
		}
		for r := RoundX; r < numRounds; r++ {
			raw := cell(row, coordCol[r])
			if coordCol[r] < 0 || raw == "" {
				continue
			}
			coord, err := strconv.Atoi(raw)
			if err != nil {
				return nil, configErrorf("legend row %d: %s coordinate %q is not an integer", line, r, raw)
			}
			if coord < 0 {
				return nil, configErrorf("legend row %d: %s coordinate %d is negative", line, r, coord)
			}
			if err := l.add(&BarcodeEntry{Round: r, Well: well, Seq: seq, Coord: coord}); err != nil {
				return nil, err
			}
		}
	}
	for r := RoundX; r < numRounds; r++ {
		if len(l.entries[r]) > 0 {
			l.rounds = append(l.rounds, r)
		}
	}
	if !l.HasRound(RoundX) || !l.HasRound(RoundY) {
		return nil, configErrorf("legend: rounds X and Y must both have barcodes (found %v)", l.rounds)
	}
	for _, r := range l.rounds {
		log.Debug.Printf("legend: round %s: %d barcodes of length %d", r, len(l.entries[r]), l.seqLen[r])
	}
	return l, nil
}

func (l *Legend) add(e *BarcodeEntry) error {
	r := e.Round
	if n := len(l.entries[r]); n == 0 {
		l.seqLen[r] = len(e.Seq)
	} else if len(e.Seq) != l.seqLen[r] {
		return configErrorf("legend: round %s barcode %s has length %d, other barcodes have length %d",
			r, e.Seq, len(e.Seq), l.seqLen[r])
	}
	if prev, ok := l.exact[r][e.Seq]; ok {
		return configErrorf("legend: round %s barcode %s assigned to both well %s and well %s",
			r, e.Seq, prev.Well, e.Well)
	}
	if prev, ok := l.wellToCoord[r][e.Well]; ok && prev != e.Coord {
		return configErrorf("legend: round %s well %s assigned coordinates %d and %d",
			r, e.Well, prev, e.Coord)
	}
	if prev, ok := l.coordToWell[r][e.Coord]; ok && prev != e.Well {
		return configErrorf("legend: round %s coordinate %d assigned to both well %s and well %s",
			r, e.Coord, prev, e.Well)
	}
	l.exact[r][e.Seq] = e
	l.entries[r] = append(l.entries[r], e)
	l.wellToCoord[r][e.Well] = e.Coord
	l.coordToWell[r][e.Coord] = e.Well
	return nil
}

// LoadLegend reads and parses a legend table. Gzipped tables are
// decompressed transparently.
func LoadLegend(ctx context.Context, path string) (*Legend, error) {
	data, err := ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseLegend(data)
}

// ReadTable reads a whole tabular file, transparently decompressing
// gzipped paths.
func ReadTable(ctx context.Context, path string) (data []byte, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	var rd io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(rd, in.Name()); u != nil {
		rd = u
	}
	return ioutil.ReadAll(rd)
}
