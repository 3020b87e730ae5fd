// Package httpapi exposes the five external endpoints of §6: health,
// document upload/list/delete, and the chat SSE stream. Grounded on the
// teacher's own documents.go/routes.go handler shape (echo.Context,
// respondWithError, multipart FormFile) and stream_agents.go's SSE write
// loop, adapted to the RAG core's own error taxonomy and event model.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/observability"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/answer"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/coordinator"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/store"
)

// Server wires the RAG core's coordinator, store and composer into echo
// handlers.
type Server struct {
	coordinator *coordinator.Coordinator
	store       store.Store
	composer    *answer.Composer
	upload      config.UploadConfig
}

// New constructs a Server.
func New(coord *coordinator.Coordinator, st store.Store, comp *answer.Composer, upload config.UploadConfig) *Server {
	return &Server{coordinator: coord, store: st, composer: comp, upload: upload}
}

// Register mounts every route under e (spec §6).
func (s *Server) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/health", s.health)
	api.POST("/documents/upload", s.uploadDocument)
	api.GET("/documents/", s.listDocuments)
	api.DELETE("/documents/:id", s.deleteDocument)
	api.POST("/chat/stream", s.chatStream)
}

func respondWithError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

type healthResponse struct {
	Status         string `json:"status"`
	DocumentsCount int    `json:"documents_count"`
	ChunksCount    int    `json:"chunks_count"`
}

func (s *Server) health(c echo.Context) error {
	docs, err := s.store.CountDocuments(c.Request().Context())
	if err != nil {
		return respondWithError(c, http.StatusServiceUnavailable, err.Error())
	}
	chunks, err := s.store.CountChunks(c.Request().Context())
	if err != nil {
		return respondWithError(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", DocumentsCount: docs, ChunksCount: chunks})
}

// documentDTO is the §6 Document DTO.
type documentDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at"`
	Type       string `json:"type"`
}

func toDocumentDTO(d store.Document) documentDTO {
	return documentDTO{
		ID:         d.ID.String(),
		Name:       d.Name,
		Size:       d.SizeBytes,
		UploadedAt: d.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
		Type:       d.MIMEKind,
	}
}

func (s *Server) uploadDocument(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return respondWithError(c, http.StatusBadRequest, "file is required")
	}

	maxMB := s.upload.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 50
	}
	if fileHeader.Size > int64(maxMB)*1024*1024 {
		return respondWithError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB limit", maxMB))
	}

	if len(s.upload.AllowedExtensions) > 0 && !hasAllowedExtension(fileHeader.Filename, s.upload.AllowedExtensions) {
		return respondWithError(c, http.StatusBadRequest, "unsupported file extension")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return respondWithError(c, http.StatusBadRequest, "could not open uploaded file")
	}
	defer file.Close()

	binary, err := io.ReadAll(file)
	if err != nil {
		return respondWithError(c, http.StatusBadRequest, "could not read uploaded file")
	}

	class := strings.TrimSpace(c.FormValue("class"))
	if class == "" {
		class = "document"
	}

	doc, err := s.coordinator.Ingest(c.Request().Context(), binary, fileHeader.Filename, class)
	if err != nil {
		return writeIngestionError(c, err)
	}

	return c.JSON(http.StatusOK, toDocumentDTO(doc))
}

func hasAllowedExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(extOf(filename))
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

func extOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx == -1 {
		return ""
	}
	return filename[idx:]
}

func writeIngestionError(c echo.Context, err error) error {
	switch ragerrors.Classify(err) {
	case ragerrors.KindInputRejection:
		return respondWithError(c, http.StatusBadRequest, err.Error())
	case ragerrors.KindExtractionFailure:
		return respondWithError(c, http.StatusUnprocessableEntity, err.Error())
	case ragerrors.KindEmptyYield:
		return respondWithError(c, http.StatusUnprocessableEntity, err.Error())
	case ragerrors.KindUpstreamUnavailable:
		return respondWithError(c, http.StatusServiceUnavailable, err.Error())
	default:
		return respondWithError(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) listDocuments(c echo.Context) error {
	docs, err := s.store.ListDocuments(c.Request().Context())
	if err != nil {
		return respondWithError(c, http.StatusServiceUnavailable, err.Error())
	}
	out := make([]documentDTO, len(docs))
	for i, d := range docs {
		out[i] = toDocumentDTO(d)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) deleteDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respondWithError(c, http.StatusBadRequest, "invalid document id")
	}
	if err := s.coordinator.Delete(c.Request().Context(), id); err != nil {
		if ragerrors.Classify(err) == ragerrors.KindNotFound {
			return respondWithError(c, http.StatusNotFound, "document not found")
		}
		return respondWithError(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// chatRequest is the §6 POST /api/chat/stream request body.
type chatRequest struct {
	Message   string            `json:"message"`
	SessionID string            `json:"session_id,omitempty"`
	History   []chatHistoryTurn `json:"history,omitempty"`
}

type chatHistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) chatStream(c echo.Context) error {
	ctx := c.Request().Context()
	reqLogger := observability.LoggerWithTrace(ctx)

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return respondWithError(c, http.StatusBadRequest, "invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return respondWithError(c, http.StatusBadRequest, "message is required")
	}

	if raw, err := json.Marshal(req); err == nil {
		reqLogger.Debug().RawJSON("request", observability.RedactJSON(raw)).Msg("chat request received")
	}

	history := make([]answer.Message, len(req.History))
	for i, h := range req.History {
		history[i] = answer.Message{Role: h.Role, Content: h.Content}
	}

	events, err := s.composer.Answer(ctx, req.Message, history)
	if err != nil {
		reqLogger.Error().Err(err).Msg("chat planning/retrieval failed")
		return writeIngestionError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "streaming unsupported")
	}
	c.Response().WriteHeader(http.StatusOK)

	write := func(payload string) {
		fmt.Fprintf(c.Response(), "data: %s\n\n", payload)
		flusher.Flush()
	}

	for ev := range events {
		payload, ok := renderEvent(ev)
		if !ok {
			continue
		}
		write(payload)
	}
	write("[DONE]")
	reqLogger.Info().Msg("chat stream completed")
	return nil
}

func renderEvent(ev answer.Event) (string, bool) {
	switch ev.Kind {
	case answer.KindText:
		return escapeTextPayload(ev.Text), true
	case answer.KindCitations:
		return jsonEventPayload("citations", citationsToDTO(ev.Citations)), true
	case answer.KindMetrics:
		return jsonEventPayload("metrics", ev.Metrics), true
	case answer.KindDone:
		return jsonEventPayload("done", struct{}{}), true
	default:
		return "", false
	}
}

// escapeTextPayload encodes literal newlines with the sentinels the UI
// contract names, since the SSE transport frames on newlines (spec §6).
func escapeTextPayload(text string) string {
	escaped := strings.ReplaceAll(text, "\n\n", "<<<BLANK_LINE>>>")
	escaped = strings.ReplaceAll(escaped, "\n", "<<<LINE_BREAK>>>")
	return jsonEventPayload("text", escaped)
}

type eventPayload struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

func jsonEventPayload(kind string, data any) string {
	out, err := json.Marshal(eventPayload{Kind: kind, Data: data})
	if err != nil {
		return fmt.Sprintf(`{"kind":%q}`, kind)
	}
	return string(out)
}

// citationDTO is the §6 Citation DTO.
type citationDTO struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

type citationsResponse struct {
	Citations        []citationDTO `json:"citations"`
	InvalidCitations []citationDTO `json:"invalid_citations,omitempty"`
}

func citationsToDTO(payload answer.CitationsPayload) citationsResponse {
	return citationsResponse{
		Citations:        toDTOSlice(payload.Citations),
		InvalidCitations: toDTOSlice(payload.InvalidCitations),
	}
}

func toDTOSlice(cs []answer.Citation) []citationDTO {
	out := make([]citationDTO, len(cs))
	for i, c := range cs {
		source := c.DocumentName
		if c.Page > 0 {
			source = fmt.Sprintf("%s, p.%d", source, c.Page)
		}
		if c.Section != "" {
			source = fmt.Sprintf("%s, §%s", source, c.Section)
		}
		dto := citationDTO{ID: c.ID, Text: c.TextExcerpt, Source: source}
		if c.DocumentID != uuid.Nil {
			dto.URL = "/documents/" + c.DocumentID.String()
		}
		out[i] = dto
	}
	return out
}
