// Package tokenizer provides the canonical, process-wide token counter
// (spec §3/§4.2.4) shared by the chunker and the answer composer's token
// and cost accounting. Count is a pure function: there is no model or
// vocabulary to load.
package tokenizer

import "unicode"

// Count estimates the number of model tokens in s using the same
// heuristic every stage of the pipeline must agree on: each punctuation
// character counts as one token, and each word counts one token per four
// characters (rounded up) to approximate sub-word tokenization. This mirrors the
// hand-rolled heuristics already used across the lineage for budgeting
// (no tokenizer library appears anywhere in the retrieval pack).
func Count(s string) int {
	if s == "" {
		return 0
	}
	count := 0
	runeLen := 0
	flush := func() {
		if runeLen == 0 {
			return
		}
		count += (runeLen + 3) / 4
		runeLen = 0
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r):
			flush()
			count++
		default:
			runeLen++
		}
	}
	flush()
	return count
}

// CountBatch sums Count across texts.
func CountBatch(texts []string) int {
	total := 0
	for _, t := range texts {
		total += Count(t)
	}
	return total
}
