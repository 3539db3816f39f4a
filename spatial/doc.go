// Package spatial resolves combinatorial spatial barcodes from tagged,
// aligned reads and assembles a spot-by-gene digital expression matrix.
//
// A read carries up to three independently-synthesized barcode
// fragments (rounds X, Y, Z), a UMI, and a gene assignment. Each
// fragment is corrected against the legend of its round within a
// bounded edit distance; the corrected wells map, through the
// well-coordinate assignment, to the axes of a spot identity. Repeated
// (spot, gene, UMI) observations collapse into single molecules, and
// the molecule counts accumulate in a sparse matrix.
//
// Correction and resolution are pure per-read transformations and run
// in parallel workers; deduplication and matrix assembly depend on a
// consistent input order and run in a single collector goroutine fed by
// a bounded queue.
package spatial
