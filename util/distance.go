package util

// Edit-distance primitives for barcode and UMI comparison. Barcodes are
// short (8-10 bases) and synthesized from a curated, mutually
// well-separated set, so the common sequencing error is a single
// substitution and Hamming distance is the default metric. Levenshtein
// is available for protocols whose barcode reads may contain indels.

// Hamming returns the number of positions at which s1 and s2 differ.
// The two strings must have equal length.
func Hamming(s1, s2 string) int {
	if len(s1) != len(s2) {
		panic("Hamming: strings must have equal length: '" + s1 + "', '" + s2 + "'")
	}
	d := 0
	for i := 0; i < len(s1); i++ {
		if s1[i] != s2[i] {
			d++
		}
	}
	return d
}

// HammingBounded is Hamming with an early exit: any distance >= limit is
// reported as limit. With a dictionary of n candidates and a small
// correction threshold t, scanning with limit=t+1 skips most of the work
// on the (overwhelmingly common) distant candidates.
func HammingBounded(s1, s2 string, limit int) int {
	if len(s1) != len(s2) {
		panic("HammingBounded: strings must have equal length: '" + s1 + "', '" + s2 + "'")
	}
	d := 0
	for i := 0; i < len(s1); i++ {
		if s1[i] != s2[i] {
			d++
			if d >= limit {
				return limit
			}
		}
	}
	return d
}

// Levenshtein returns the minimum number of insertions, deletions, and
// substitutions required to transform s1 into s2. Unlike Hamming, the
// strings may differ in length.
func Levenshtein(s1, s2 string) int {
	if s1 == s2 {
		return 0
	}
	// Two-row DP over the edit matrix; prev is row i-1, cur is row i.
	prev := make([]int, len(s2)+1)
	cur := make([]int, len(s2)+1)
	for j := 0; j <= len(s2); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		cur[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			v := prev[j-1] + cost // substitution or match
			if d := prev[j] + 1; d < v { // deletion from s1
				v = d
			}
			if d := cur[j-1] + 1; d < v { // insertion into s1
				v = d
			}
			cur[j] = v
		}
		prev, cur = cur, prev
	}
	return prev[len(s2)]
}
