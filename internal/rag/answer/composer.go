// Package answer implements the Answer Composer (C10): the final
// planning -> retrieval -> streaming -> citation-validation pipeline that
// turns one question into a structured event stream (spec §4.10).
//
// Grounded on the teacher's stream_agents.go SSE handler shape (emitting
// incremental events over a channel-like write loop) and its own
// internal/rag/llmgw.Gateway.Stream for token delivery.
package answer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/llmgw"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/query"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/retrieve"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/tokenizer"
)

// Message is one turn of prior conversation, carrying only raw text (spec
// §4.10 "no prior citations").
type Message struct {
	Role    string
	Content string
}

// historyTurns is K, the number of trailing user/assistant turn pairs
// kept from history (spec §4.10 "K small, e.g. 4").
const historyTurns = 4

// EventKind tags the four kinds of event the composer emits (spec §4.10,
// §9 "tagged-sum event model").
type EventKind string

const (
	KindText      EventKind = "text"
	KindCitations EventKind = "citations"
	KindMetrics   EventKind = "metrics"
	KindDone      EventKind = "done"
)

// Citation describes one accepted citation for the post-stream
// "citations" event.
type Citation struct {
	ID           string    `json:"id"`
	TextExcerpt  string    `json:"text_excerpt"`
	DocumentName string    `json:"document_name"`
	DocumentID   uuid.UUID `json:"document_id"`
	Page         int       `json:"page"`
	Section      string    `json:"section,omitempty"`
	Fuzzy        bool      `json:"fuzzy,omitempty"`
}

// CitationsPayload is the data of a "citations" event: only referenced,
// accepted citations plus the raw spans of any rejected ones (spec §4.10
// point 4), listed in both strict and non-strict mode.
type CitationsPayload struct {
	Citations        []Citation `json:"citations"`
	InvalidCitations []Citation `json:"invalid_citations,omitempty"`
}

// MetricsPayload is the data of a "metrics" event.
type MetricsPayload struct {
	InputTokens            int     `json:"input_tokens"`
	OutputTokens           int     `json:"output_tokens"`
	EstimatedCost          float64 `json:"estimated_cost"`
	CitationsCount         int     `json:"citations_count"`
	AverageNormalizedScore float64 `json:"average_normalized_score"`
	LatencyMs              int64   `json:"latency_ms"`
	Degraded               bool    `json:"degraded"`
}

// Event is one item of the structured stream Answer produces.
type Event struct {
	Kind      EventKind
	Text      string
	Citations CitationsPayload
	Metrics   MetricsPayload
}

// Composer runs the full question -> answer pipeline.
type Composer struct {
	planner   query.Planner
	retriever retrieve.Retriever
	llm       llmgw.Gateway
	cfg       config.AnswerConfig
}

// New constructs a Composer from its three upstream stages and the
// answer-shaping configuration (spec §4.10, §6 env vars).
func New(planner query.Planner, retriever retrieve.Retriever, llm llmgw.Gateway, cfg config.AnswerConfig) *Composer {
	return &Composer{planner: planner, retriever: retriever, llm: llm, cfg: cfg}
}

const systemPolicy = `You are a banking and financial regulation assistant. Answer the user's question using only the numbered sources provided below the question. Mark every verbatim-cited span using the sentinel form ⟨cite id="C<i>"⟩...⟨/cite⟩, where <i> matches the source number you are citing, wrapped immediately around the exact quoted text. For complex questions spanning several mechanisms, cite 6 to 10 spans and write 800 to 1200 words; for simple questions, cite 2 to 4 spans and write 300 to 500 words. Never invent a citation id that was not given to you, and never cite text that does not appear verbatim in its source.`

var citeSentinelOpen = "⟨cite id=\""
var citeSentinelClose = "⟨/cite⟩"

var citeRegexp = regexp.MustCompile(`⟨cite id="([^"]+)"⟩([\s\S]*?)⟨/cite⟩`)

// Answer runs PLANNING and RETRIEVING synchronously; an error here means
// the state machine aborted to FAILED and no event stream is produced
// (spec §4.10). On success it returns a channel of events terminated by
// a KindDone event, then closed.
func (c *Composer) Answer(ctx context.Context, question string, history []Message) (<-chan Event, error) {
	start := time.Now()

	plan, err := c.planner.Plan(ctx, question)
	if err != nil {
		return nil, err
	}

	retrieval, err := c.retriever.Retrieve(ctx, question, plan.ExpandedText, plan.QueryVector)
	if err != nil {
		return nil, err
	}

	degraded := plan.Degraded || retrieval.Degraded
	passages, idByIndex := buildPassages(retrieval.Candidates)
	contextBlock := renderContextBlock(passages)
	messages := buildMessages(history, contextBlock, question)

	events := make(chan Event, 8)
	go c.stream(ctx, events, messages, passages, idByIndex, degraded, start)
	return events, nil
}

type passage struct {
	ID           string
	Content      string
	DocumentName string
	DocumentID   uuid.UUID
	Page         int
	Section      string
	Score        float64
}

func buildPassages(candidates []retrieve.Candidate) ([]passage, map[string]int) {
	passages := make([]passage, len(candidates))
	idByIndex := make(map[string]int, len(candidates))
	for i, cand := range candidates {
		id := fmt.Sprintf("C%d", i+1)
		passages[i] = passage{
			ID:           id,
			Content:      cand.Chunk.Content,
			DocumentName: cand.Chunk.Metadata.DocumentName,
			DocumentID:   cand.Chunk.DocumentID,
			Page:         cand.Chunk.Metadata.Page,
			Section:      cand.Chunk.Metadata.Section,
			Score:        cand.Score,
		}
		idByIndex[id] = i
	}
	return passages, idByIndex
}

func renderContextBlock(passages []passage) string {
	var b strings.Builder
	for _, p := range passages {
		b.WriteString("Source ")
		b.WriteString(p.ID)
		b.WriteString(": [")
		b.WriteString(p.DocumentName)
		b.WriteString(", p.")
		fmt.Fprintf(&b, "%d", p.Page)
		if p.Section != "" {
			b.WriteString(", section ")
			b.WriteString(p.Section)
		}
		b.WriteString("]\n")
		b.WriteString(p.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func buildMessages(history []Message, contextBlock, question string) []llmgw.Message {
	trimmed := history
	if limit := historyTurns * 2; len(trimmed) > limit {
		trimmed = trimmed[len(trimmed)-limit:]
	}
	out := make([]llmgw.Message, 0, len(trimmed)+1)
	for _, h := range trimmed {
		out = append(out, llmgw.Message{Role: h.Role, Content: h.Content})
	}
	userTurn := question
	if contextBlock != "" {
		userTurn = contextBlock + "\nQuestion: " + question
	}
	out = append(out, llmgw.Message{Role: "user", Content: userTurn})
	return out
}

func (c *Composer) stream(ctx context.Context, events chan<- Event, messages []llmgw.Message, passages []passage, idByIndex map[string]int, degraded bool, start time.Time) {
	defer close(events)

	textCh, errCh := c.llm.Stream(ctx, messages, systemPolicy, c.cfg.TemperatureAnswer, c.cfg.MaxTokens)

	var full strings.Builder
	buf := &sentinelBuffer{}
	cancelled := false

loop:
	for {
		select {
		case chunk, ok := <-textCh:
			if !ok {
				break loop
			}
			full.WriteString(chunk)
			if out := buf.Feed(chunk); out != "" {
				events <- Event{Kind: KindText, Text: out}
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					cancelled = true
				}
				degraded = true
			}
		case <-ctx.Done():
			cancelled = true
			break loop
		}
	}

	if cancelled || ctx.Err() != nil {
		return
	}

	if remainder := buf.Flush(); remainder != "" {
		events <- Event{Kind: KindText, Text: remainder}
	}

	answerText := full.String()
	valid, invalid, citeDegraded := c.validateCitations(answerText, passages, idByIndex)
	degraded = degraded || citeDegraded

	events <- Event{Kind: KindCitations, Citations: CitationsPayload{Citations: valid, InvalidCitations: invalid}}

	inputTokens := tokenizer.Count(systemPolicy) + tokenizer.Count(messagesText(messages))
	outputTokens := tokenizer.Count(answerText)
	cost := float64(inputTokens)/1_000_000*c.cfg.InputPricePer1M + float64(outputTokens)/1_000_000*c.cfg.OutputPricePer1M

	events <- Event{Kind: KindMetrics, Metrics: MetricsPayload{
		InputTokens:            inputTokens,
		OutputTokens:           outputTokens,
		EstimatedCost:          cost,
		CitationsCount:         len(valid),
		AverageNormalizedScore: averageScore(passages),
		LatencyMs:              time.Since(start).Milliseconds(),
		Degraded:               degraded,
	}}

	events <- Event{Kind: KindDone}
}

func messagesText(messages []llmgw.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func averageScore(passages []passage) float64 {
	if len(passages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range passages {
		sum += p.Score
	}
	return sum / float64(len(passages))
}

// validateCitations extracts every cite sentinel from text and classifies
// each as verbatim, fuzzy-accepted, or invalid (spec §4.10 "Citation
// validation").
func (c *Composer) validateCitations(text string, passages []passage, idByIndex map[string]int) (valid, invalid []Citation, degraded bool) {
	matches := citeRegexp.FindAllStringSubmatch(text, -1)
	seen := map[string]bool{}
	for _, m := range matches {
		id, span := m[1], m[2]
		key := id + "\x00" + span
		if seen[key] {
			continue
		}
		seen[key] = true

		idx, ok := idByIndex[id]
		if !ok {
			invalid = append(invalid, Citation{ID: id, TextExcerpt: span})
			if c.cfg.StrictCitations {
				degraded = true
			}
			continue
		}
		p := passages[idx]
		trimmedSpan := strings.TrimSpace(span)
		fuzzy := false
		accepted := strings.Contains(p.Content, trimmedSpan)
		if !accepted {
			threshold := c.cfg.FuzzyAccept
			if threshold <= 0 {
				threshold = 0.90
			}
			if lcsRatio(trimmedSpan, p.Content) >= threshold {
				accepted = true
				fuzzy = true
			}
		}
		if !accepted {
			invalid = append(invalid, Citation{ID: id, TextExcerpt: span, DocumentName: p.DocumentName, DocumentID: p.DocumentID, Page: p.Page, Section: p.Section})
			if c.cfg.StrictCitations {
				degraded = true
			}
			continue
		}
		valid = append(valid, Citation{ID: id, TextExcerpt: trimmedSpan, DocumentName: p.DocumentName, DocumentID: p.DocumentID, Page: p.Page, Section: p.Section, Fuzzy: fuzzy})
	}
	return valid, invalid, degraded
}

// lcsRatio returns the longest-common-subsequence length between span and
// passage, normalized by span's length (spec §4.10 point 3).
func lcsRatio(span, passage string) float64 {
	m, n := len(span), len(passage)
	if m == 0 || n == 0 {
		return 0
	}
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if span[i-1] == passage[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return float64(prev[n]) / float64(m)
}

// sentinelBuffer holds back text that might be a partial cite sentinel so
// no event boundary ever splits one (spec §4.10 "Streaming").
type sentinelBuffer struct {
	buf string
}

func (s *sentinelBuffer) Feed(chunk string) string {
	s.buf += chunk
	return s.drain()
}

func (s *sentinelBuffer) Flush() string {
	out := s.buf
	s.buf = ""
	return out
}

func (s *sentinelBuffer) drain() string {
	var out strings.Builder
	for {
		if open := strings.LastIndex(s.buf, citeSentinelOpen); open != -1 && !strings.Contains(s.buf[open:], citeSentinelClose) {
			out.WriteString(s.buf[:open])
			s.buf = s.buf[open:]
			return out.String()
		}
		idx := strings.LastIndex(s.buf, "⟨")
		if idx == -1 {
			out.WriteString(s.buf)
			s.buf = ""
			return out.String()
		}
		tail := s.buf[idx:]
		if isPartialPrefix(tail, citeSentinelOpen) || isPartialPrefix(tail, citeSentinelClose) {
			out.WriteString(s.buf[:idx])
			s.buf = tail
			return out.String()
		}
		if strings.HasPrefix(tail, citeSentinelOpen) {
			rest := tail[len(citeSentinelOpen):]
			closeQuote := strings.Index(rest, "\"⟩")
			if closeQuote == -1 {
				out.WriteString(s.buf[:idx])
				s.buf = tail
				return out.String()
			}
			afterOpen := rest[closeQuote+len("\"⟩"):]
			closeIdx := strings.Index(afterOpen, citeSentinelClose)
			if closeIdx == -1 {
				out.WriteString(s.buf[:idx])
				s.buf = tail
				return out.String()
			}
			consumed := idx + len(citeSentinelOpen) + closeQuote + len("\"⟩") + closeIdx + len(citeSentinelClose)
			out.WriteString(s.buf[:consumed])
			s.buf = s.buf[consumed:]
			continue
		}
		out.WriteString(s.buf[:idx+len("⟨")])
		s.buf = s.buf[idx+len("⟨"):]
	}
}

func isPartialPrefix(tail, literal string) bool {
	if len(tail) >= len(literal) {
		return false
	}
	return literal[:len(tail)] == tail
}
