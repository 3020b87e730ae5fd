package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func genSentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("The minimum CET1 ratio under this regulation applies broadly. ")
	}
	return b.String()
}

func TestChunk_RespectsSizeAndMinTokens(t *testing.T) {
	pages := []PageInput{{PhysicalPosition: 1, Text: genSentences(400)}}
	opts := Options{SizeTokens: 100, OverlapTokens: 10, MinTokens: 5}
	chunks := Chunk(pages, opts)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.GreaterOrEqual(t, c.TokenCount, opts.MinTokens)
		require.LessOrEqual(t, c.TokenCount, opts.SizeTokens)
		require.NotEmpty(t, strings.TrimSpace(c.Content))
	}
}

func TestChunk_EmptyDocumentYieldsNoChunks(t *testing.T) {
	chunks := Chunk([]PageInput{{PhysicalPosition: 1, Text: "   "}}, DefaultOptions())
	require.Empty(t, chunks)
}

func TestChunk_PageAttribution_RecoveredNumber(t *testing.T) {
	n := 7
	pages := []PageInput{
		{PhysicalPosition: 1, Text: "Cover page."},
		{PhysicalPosition: 2, RecoveredPageNumber: &n, Text: genSentences(50)},
	}
	// A chunk is attributed to the page it starts on, so the size must be
	// small enough that some chunk starts inside page 2.
	chunks := Chunk(pages, Options{SizeTokens: 100, OverlapTokens: 0, MinTokens: 1})
	require.NotEmpty(t, chunks)
	found := false
	for _, c := range chunks {
		if c.Metadata.PageExtracted {
			require.Equal(t, 7, c.Metadata.Page)
			require.Equal(t, 2, c.Metadata.PhysicalPosition)
			found = true
		}
	}
	require.True(t, found)
}

func TestChunk_NoRecoveredNumber_PageEqualsPhysicalPosition(t *testing.T) {
	pages := []PageInput{
		{PhysicalPosition: 1, Text: genSentences(30)},
		{PhysicalPosition: 2, Text: genSentences(30)},
	}
	chunks := Chunk(pages, Options{SizeTokens: 1200, OverlapTokens: 0, MinTokens: 1})
	for _, c := range chunks {
		require.False(t, c.Metadata.PageExtracted)
		require.Equal(t, c.Metadata.PhysicalPosition, c.Metadata.Page)
	}
}

func TestChunk_SectionDetection(t *testing.T) {
	text := "ARTICLE 5 CAPITAL REQUIREMENTS\n\n" + genSentences(40)
	pages := []PageInput{{PhysicalPosition: 1, Text: text}}
	chunks := Chunk(pages, Options{SizeTokens: 1200, OverlapTokens: 0, MinTokens: 1})
	require.NotEmpty(t, chunks)
	require.Contains(t, chunks[0].Metadata.Section, "ARTICLE 5")
}

func TestChunk_OverlapCarriesTrailingContext(t *testing.T) {
	// Numbered sentences make the carried-over text distinguishable from
	// the next sentence of the document.
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "Clause %d of this regulation applies broadly. ", i)
	}
	pages := []PageInput{{PhysicalPosition: 1, Text: b.String()}}
	opts := Options{SizeTokens: 50, OverlapTokens: 20, MinTokens: 1}
	chunks := Chunk(pages, opts)
	require.Greater(t, len(chunks), 1)
	firstWords := strings.Fields(chunks[0].Content)
	secondWords := strings.Fields(chunks[1].Content)
	require.NotEmpty(t, firstWords)
	require.NotEmpty(t, secondWords)
	leading := chunks[1].Content[:strings.Index(chunks[1].Content, ". ")+1]
	require.True(t, strings.HasSuffix(chunks[0].Content, leading))
}
