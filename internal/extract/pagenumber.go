package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// pageNumberPatterns is the ordered cascade from spec §4.1: first match
// wins, scanning the first and last three non-empty lines of a page.
var pageNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*PAGE\s+(\d+)\s*$`),        // "PAGE <n>"
	regexp.MustCompile(`^\s*(\d+)\s*/\s*\d+\s*$`),         // "<n>/<m>"
	regexp.MustCompile(`^\s*-\s*(\d+)\s*-\s*$`),           // "- <n> -"
	regexp.MustCompile(`^\s*(\d+)\s*$`),                   // isolated numeric line
}

// recoverPageNumber implements the page-number-recovery cascade: scan the
// first three and last three non-empty lines of the page text, trying
// each pattern in order across the whole window before falling through
// to the next pattern. Returns nil if nothing matched.
func recoverPageNumber(pageText string) *int {
	lines := nonEmptyLines(pageText)
	if len(lines) == 0 {
		return nil
	}
	window := edgeLines(lines, 3)
	for _, pat := range pageNumberPatterns {
		for _, ln := range window {
			m := pat.FindStringSubmatch(ln)
			if m == nil {
				continue
			}
			if n, err := strconv.Atoi(m[1]); err == nil {
				return &n
			}
		}
	}
	return nil
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		if strings.TrimSpace(ln) != "" {
			out = append(out, ln)
		}
	}
	return out
}

// edgeLines returns the first n and last n lines (deduplicated if they
// overlap on a short page), preserving order: first block then last block.
func edgeLines(lines []string, n int) []string {
	if len(lines) <= 2*n {
		return lines
	}
	out := make([]string, 0, 2*n)
	out = append(out, lines[:n]...)
	out = append(out, lines[len(lines)-n:]...)
	return out
}
