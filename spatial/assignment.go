package spatial

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
)

// WellAssignment is the parsed well-coordinate assignment table: per
// round, which plate well was dispensed at which coordinate. It exists
// only to fill the coordinate columns of a bare barcode table during
// legend preprocessing.
type WellAssignment struct {
	wellToCoord [numRounds]map[string]int
}

// HasRound reports whether the assignment declares any coordinate for
// round r.
func (a *WellAssignment) HasRound(r Round) bool { return len(a.wellToCoord[r]) > 0 }

// ParseWellAssignment parses an assignment table with three independent
// column pairs, one per round: X/X_Well, Y/Y_Well, Z/Z_Well. The column
// pairs are independent, so rows need not align across rounds; a round's
// pair of cells is either both filled or both empty.
func ParseWellAssignment(data []byte) (*WellAssignment, error) {
	rows, _ := splitTable(data)
	if len(rows) < 2 {
		return nil, configErrorf("assignment: table has no data rows")
	}
	idx := headerIndex(rows[0])
	type pair struct{ coord, well int }
	cols := [numRounds]pair{}
	a := &WellAssignment{}
	declared := false
	for r := RoundX; r < numRounds; r++ {
		a.wellToCoord[r] = map[string]int{}
		name := strings.ToLower(r.String())
		coordCol, okCoord := idx[name]
		wellCol, okWell := idx[name+"_well"]
		if okCoord != okWell {
			return nil, configErrorf("assignment: round %s needs both %s and %s_Well columns", r, r, r)
		}
		if !okCoord {
			cols[r] = pair{-1, -1}
			continue
		}
		cols[r] = pair{coordCol, wellCol}
		declared = true
	}
	if !declared {
		return nil, configErrorf("assignment: no round columns found in header %v", rows[0])
	}
	for n, row := range rows[1:] {
		line := n + 2
		for r := RoundX; r < numRounds; r++ {
			if cols[r].coord < 0 {
				continue
			}
			rawCoord := cell(row, cols[r].coord)
			rawWell := cell(row, cols[r].well)
			if rawCoord == "" && rawWell == "" {
				continue
			}
			if rawCoord == "" || rawWell == "" {
				return nil, configErrorf("assignment row %d: round %s has coordinate %q but well %q",
					line, r, rawCoord, rawWell)
			}
			coord, err := strconv.Atoi(rawCoord)
			if err != nil || coord < 0 {
				return nil, configErrorf("assignment row %d: %s coordinate %q is not a non-negative integer",
					line, r, rawCoord)
			}
			well := NormalizeWell(rawWell)
			if prev, ok := a.wellToCoord[r][well]; ok && prev != coord {
				return nil, configErrorf("assignment: round %s well %s assigned coordinates %d and %d",
					r, well, prev, coord)
			}
			a.wellToCoord[r][well] = coord
		}
	}
	return a, nil
}

// Fill merges a bare barcode table (WellPosition, Name, Barcode) with
// the assignment, producing a complete legend table in TSV form. Every
// well the assignment references must carry a barcode: a round declared
// in the assignment with no matching barcodes means the two tables
// disagree about the plate layout.
func (a *WellAssignment) Fill(barcodeTable []byte) ([]byte, error) {
	rows, _ := splitTable(barcodeTable)
	if len(rows) < 2 {
		return nil, configErrorf("barcode table has no data rows")
	}
	idx := headerIndex(rows[0])
	wellCol, ok := idx["wellposition"]
	if !ok {
		return nil, configErrorf("barcode table: missing WellPosition column in header %v", rows[0])
	}
	barcodeCol, ok := idx["barcode"]
	if !ok {
		return nil, configErrorf("barcode table: missing Barcode column in header %v", rows[0])
	}
	nameCol := -1
	if c, ok := idx["name"]; ok {
		nameCol = c
	}

	matched := [numRounds]int{}
	var buf bytes.Buffer
	w := tsv.NewWriter(&buf)
	w.WriteString("WellPosition")
	w.WriteString("Name")
	w.WriteString("Barcode")
	w.WriteString("X")
	w.WriteString("Y")
	w.WriteString("Z")
	if err := w.EndLine(); err != nil {
		return nil, err
	}
	for n, row := range rows[1:] {
		line := n + 2
		well := NormalizeWell(cell(row, wellCol))
		seq := strings.ToUpper(cell(row, barcodeCol))
		if well == "" || seq == "" {
			return nil, configErrorf("barcode table row %d: empty WellPosition or Barcode", line)
		}
		w.WriteString(well)
		w.WriteString(cell(row, nameCol))
		w.WriteString(seq)
		for r := RoundX; r < numRounds; r++ {
			if coord, ok := a.wellToCoord[r][well]; ok {
				w.WriteString(strconv.Itoa(coord))
				matched[r]++
			} else {
				w.WriteString("")
			}
		}
		if err := w.EndLine(); err != nil {
			return nil, err
		}
	}
	for r := RoundX; r < numRounds; r++ {
		if a.HasRound(r) && matched[r] == 0 {
			return nil, configErrorf("assignment declares round %s but no barcode-table well matches it", r)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadWellAssignment reads and parses an assignment table.
func LoadWellAssignment(ctx context.Context, path string) (*WellAssignment, error) {
	data, err := ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseWellAssignment(data)
}
