// Package ragerrors defines the categorical error kinds shared by every
// stage of the RAG core, so a caller can branch with errors.Is/errors.As
// instead of string-matching a message.
package ragerrors

import "errors"

// Sentinel kinds. Gateways and the coordinator/composer wrap these with
// fmt.Errorf("...: %w", ErrX) so the original kind survives unwrapping.
var (
	// ErrExtractionFailed: the document binary could not be parsed (C1).
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrIngestionYieldedNothing: chunking produced zero chunks (C2/C7).
	ErrIngestionYieldedNothing = errors.New("ingestion yielded nothing")
	// ErrEmbeddingUnavailable: the embedding model could not be reached after retries (C3).
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrRerankerUnavailable: the cross-encoder reranker could not be reached after retries (C4).
	ErrRerankerUnavailable = errors.New("reranker unavailable")
	// ErrLLMUnavailable: the chat model could not be reached before any token was produced (C5).
	ErrLLMUnavailable = errors.New("llm unavailable")
	// ErrLLMStreamTruncated: the chat model stream ended mid-response (C5/C10).
	ErrLLMStreamTruncated = errors.New("llm stream truncated")
	// ErrStorageUnavailable: the chunk store could not be reached (C6).
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUnsupportedMIME: the upload's MIME kind is not one of pdf|docx|text.
	ErrUnsupportedMIME = errors.New("unsupported mime type")
	// ErrUploadTooLarge: the upload exceeds MAX_UPLOAD_MB.
	ErrUploadTooLarge = errors.New("upload too large")
	// ErrDocumentNotFound: no document exists with the given id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrCancelled: the caller aborted the request before completion.
	ErrCancelled = errors.New("cancelled")
)

// Kind classifies an error into one of the taxonomy's top-level buckets,
// for HTTP handlers that need a single status-code lookup rather than a
// chain of errors.Is calls.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputRejection
	KindExtractionFailure
	KindUpstreamUnavailable
	KindEmptyYield
	KindNotFound
	KindCancelled
)

// Classify maps err to its taxonomy bucket by walking the sentinel chain.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUnsupportedMIME), errors.Is(err, ErrUploadTooLarge):
		return KindInputRejection
	case errors.Is(err, ErrExtractionFailed):
		return KindExtractionFailure
	case errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrRerankerUnavailable),
		errors.Is(err, ErrLLMUnavailable),
		errors.Is(err, ErrLLMStreamTruncated),
		errors.Is(err, ErrStorageUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrIngestionYieldedNothing):
		return KindEmptyYield
	case errors.Is(err, ErrDocumentNotFound):
		return KindNotFound
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindUnknown
	}
}

// HTTPStatus returns the status code the §7 propagation policy assigns to
// a categorical error kind during ingestion. Query-time errors are handled
// separately by the composer (degrade-or-terminate, never a bare status).
func HTTPStatus(err error) int {
	switch Classify(err) {
	case KindInputRejection:
		if errors.Is(err, ErrUploadTooLarge) {
			return 413
		}
		return 400
	case KindExtractionFailure, KindEmptyYield:
		return 422
	case KindUpstreamUnavailable:
		return 503
	case KindNotFound:
		return 404
	default:
		return 500
	}
}
