// Package chunker implements the Chunker (C2): splitting a document's
// per-page extraction into overlapping semantic chunks along regulatory
// boundaries, annotated with page and section metadata (spec §4.2).
//
// The hierarchical splitter is grounded on the teacher's own
// internal/rag/chunker.SimpleChunker (fixed-size splitting with overlap)
// generalized from its three ad-hoc strategies into the single ordered
// separator cascade spec.md names, and on internal/documents/boundaries.go's
// per-kind boundary dispatch for the section-detection pass.
package chunker

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/tokenizer"
)

// PageInput is the chunker's view of one extracted page (see
// internal/extract.Page); kept as its own type so this package does not
// need to import the extractor.
type PageInput struct {
	PhysicalPosition    int
	RecoveredPageNumber *int
	Text                string
}

// Metadata is the recognized chunk metadata (spec §3).
type Metadata struct {
	Page              int
	PageExtracted     bool
	PhysicalPosition  int
	Section           string // empty means absent
}

// Piece is one prospective chunk emitted by Chunk, before embedding.
type Piece struct {
	Content    string
	TokenCount int
	Metadata   Metadata
}

// Options configures the hierarchical splitter (spec §4.2, §6 env vars).
type Options struct {
	SizeTokens    int
	OverlapTokens int
	MinTokens     int
}

// DefaultOptions returns the spec's recommended defaults: 1200/300/50.
func DefaultOptions() Options {
	return Options{SizeTokens: 1200, OverlapTokens: 300, MinTokens: 50}
}

// separatorCascade descends in semantic strength (spec §4.2 step 2).
var separatorCascade = []string{
	"\n\n\n",
	"\nARTICLE ",
	"\nSection ",
	"\nChapitre ",
	"\n\n",
	"\n",
	". ",
	"! ",
	"? ",
	"; ",
	", ",
	" ",
	"",
}

// span is a byte range into the assembled full text.
type span struct{ start, end int }

// Chunk splits pages into chunks per the hierarchical algorithm, attaches
// page/section metadata, and drops fragments that fail boundary cleanup
// or the minimum-token floor. It never fails on valid input: a document
// with no extractable text yields zero chunks (spec §4.2 "Failure").
func Chunk(pages []PageInput, opts Options) []Piece {
	if opts.SizeTokens <= 0 {
		opts = DefaultOptions()
	}

	full, ranges := assemble(pages)
	if strings.TrimSpace(full) == "" {
		return nil
	}

	spans := split(full, 0, separatorCascade, opts.SizeTokens)

	chunks := make([]Piece, 0, len(spans))
	for _, sp := range spans {
		content := full[sp.start:sp.end]
		content = applyOverlap(chunks, content, opts.OverlapTokens)
		content = cleanLeading(content)
		content = cleanTrailing(content)
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		tc := tokenizer.Count(content)
		if tc < opts.MinTokens {
			continue
		}
		meta := pageFor(ranges, sp.start)
		meta.Section = detectSection(content)
		chunks = append(chunks, Piece{Content: content, TokenCount: tc, Metadata: meta})
	}
	return chunks
}

// assemble concatenates page texts with a "\n\n" join and records each
// page's byte range in the joined string, so any split's start offset can
// be mapped back to its originating page (spec §4.2 steps 1 and 7).
func assemble(pages []PageInput) (string, []pageRange) {
	var b strings.Builder
	ranges := make([]pageRange, 0, len(pages))
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(p.Text)
		ranges = append(ranges, pageRange{start: start, end: b.Len(), page: p})
	}
	return b.String(), ranges
}

type pageRange struct {
	start, end int
	page       PageInput
}

func pageFor(ranges []pageRange, offset int) Metadata {
	idx := sort.Search(len(ranges), func(i int) bool { return ranges[i].end > offset })
	if idx >= len(ranges) {
		idx = len(ranges) - 1
	}
	if idx < 0 {
		return Metadata{}
	}
	p := ranges[idx].page
	if p.RecoveredPageNumber != nil {
		return Metadata{
			Page:             *p.RecoveredPageNumber,
			PageExtracted:    true,
			PhysicalPosition: p.PhysicalPosition,
		}
	}
	return Metadata{
		Page:             p.PhysicalPosition,
		PageExtracted:    false,
		PhysicalPosition: p.PhysicalPosition,
	}
}

// split recursively applies the separator cascade until every emitted
// span fits within maxTokens, merging adjacent separator-delimited
// fragments greedily so chunks approach (without exceeding, where
// avoidable) the target size.
func split(s string, offset int, seps []string, maxTokens int) []span {
	if tokenizer.Count(s) <= maxTokens || len(s) == 0 {
		return []span{{offset, offset + len(s)}}
	}
	if len(seps) == 0 {
		return hardSplit(s, offset, maxTokens)
	}

	sep, rest := seps[0], seps[1:]
	var parts []string
	if sep == "" {
		parts = splitRunes(s)
	} else {
		parts = strings.SplitAfter(s, sep)
	}

	var out []span
	cursor := offset
	bufStart := offset
	bufLen := 0
	bufTokens := 0
	flush := func() {
		if bufLen > 0 {
			out = append(out, span{bufStart, bufStart + bufLen})
		}
		bufLen, bufTokens = 0, 0
	}
	for _, p := range parts {
		pt := tokenizer.Count(p)
		if pt > maxTokens {
			flush()
			out = append(out, split(p, cursor, rest, maxTokens)...)
			cursor += len(p)
			bufStart = cursor
			continue
		}
		if bufLen > 0 && bufTokens+pt > maxTokens {
			flush()
			bufStart = cursor
		}
		if bufLen == 0 {
			bufStart = cursor
		}
		bufLen += len(p)
		bufTokens += pt
		cursor += len(p)
	}
	flush()
	return out
}

// hardSplit is the last resort once the cascade, ending with the ""
// (single-rune) separator, is exhausted and a piece still exceeds the
// target: a character-count split of about four runes per token.
func hardSplit(s string, offset int, maxTokens int) []span {
	runes := []rune(s)
	approxCharsPerToken := 4
	maxChars := maxTokens * approxCharsPerToken
	if maxChars <= 0 {
		maxChars = len(runes)
	}
	var out []span
	byteOffset := offset
	for i := 0; i < len(runes); {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		piece := string(runes[i:end])
		out = append(out, span{byteOffset, byteOffset + len(piece)})
		byteOffset += len(piece)
		i = end
	}
	return out
}

func splitRunes(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// applyOverlap prepends the trailing overlapTokens-worth of the previous
// emitted chunk's content onto content, per spec §4.2 step 3.
func applyOverlap(prev []Piece, content string, overlapTokens int) string {
	if len(prev) == 0 || overlapTokens <= 0 {
		return content
	}
	tail := trailingTokens(prev[len(prev)-1].Content, overlapTokens)
	if tail == "" {
		return content
	}
	return tail + " " + content
}

// trailingTokens returns roughly the last n tokens of s, splitting on
// whitespace as the cheapest token-boundary approximation.
func trailingTokens(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	count := 0
	start := len(fields)
	for start > 0 {
		t := tokenizer.Count(fields[start-1])
		if count+t > n {
			break
		}
		count += t
		start--
	}
	return strings.Join(fields[start:], " ")
}

var sentenceTerminators = []rune{'.', '!', '?', '\n'}

func isSentenceTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}
	return false
}

// cleanLeading drops a leading fragment that begins lowercase and
// contains a sentence terminator within the first 30% of its length
// (spec §4.2 step 5).
func cleanLeading(content string) string {
	trimmed := strings.TrimLeft(content, " \t")
	runes := []rune(trimmed)
	if len(runes) == 0 {
		return content
	}
	first := runes[0]
	if !unicode.IsLower(first) {
		return content
	}
	limit := int(float64(len(runes)) * 0.30)
	for i := 0; i < limit && i < len(runes); i++ {
		if isSentenceTerminator(runes[i]) {
			return strings.TrimLeft(string(runes[i+1:]), " \t\n")
		}
	}
	return content
}

// cleanTrailing drops a trailing fragment when content does not end with
// a sentence terminator and the last terminator found lies in the final
// 30% of its length (spec §4.2 step 5).
func cleanTrailing(content string) string {
	runes := []rune(strings.TrimRight(content, " \t"))
	if len(runes) == 0 {
		return content
	}
	last := runes[len(runes)-1]
	if isSentenceTerminator(last) {
		return content
	}
	threshold := int(float64(len(runes)) * 0.70)
	for i := len(runes) - 1; i >= threshold && i >= 0; i-- {
		if isSentenceTerminator(runes[i]) {
			return string(runes[:i+1])
		}
	}
	return content
}

var (
	reRomanOrDigitHeading = regexp.MustCompile(`^[IVXivx\d]+[.)]\s+[A-Z]`)
	reNumberedHeading     = regexp.MustCompile(`^\d+(\.\d+)*\s+[A-Z]`)
)

var sectionKeywords = []string{
	"ARTICLE", "CHAPITRE", "SECTION", "TITRE", "PARTIE", "ANNEXE", "APPENDIX",
	"INTRODUCTION", "CONCLUSION", "DÉFINITIONS", "DEFINITIONS", "GLOSSAIRE", "GLOSSARY",
}

const maxSectionLen = 150

// detectSection scans the first 5 non-empty lines of content for a
// section/title heading (spec §4.2 step 6).
func detectSection(content string) string {
	lines := strings.Split(content, "\n")
	checked := 0
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		checked++
		if checked > 5 {
			break
		}
		if isSectionHeading(line) {
			return truncate(line, maxSectionLen)
		}
	}
	return ""
}

func isSectionHeading(line string) bool {
	if reRomanOrDigitHeading.MatchString(line) {
		return true
	}
	upper := strings.ToUpper(line)
	for _, kw := range sectionKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	if reNumberedHeading.MatchString(line) {
		return true
	}
	if len([]rune(line)) >= 10 && isAllUpper(line) && !strings.HasSuffix(line, ".") {
		return true
	}
	return false
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
