// Command server wires the RAG core's components into an HTTP process:
// config from the environment, the chunk store, the embedding/rerank/LLM
// gateways, and the query/retrieve/answer pipeline behind the §6 API.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/httpapi"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/observability"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/answer"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/coordinator"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/embedder"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/llmgw"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/obs"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/query"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/rerank"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/retrieve"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	observability.InitLogger(os.Getenv("LOG_FILE"), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Printf("otel disabled: %v", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	st, err := store.New(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("init chunk store: %v", err)
	}
	defer st.Close()

	httpClient := observability.NewHTTPClient(nil)

	emb := embedder.NewClient(cfg.Embedding, cfg.Embedding.Dimensions, httpClient)
	rr := rerank.NewHTTP(cfg.Rerank, httpClient)

	llm := llmgw.NewAnthropic(cfg.Anthropic, httpClient)

	logger := &obs.JSONLogger{}
	metrics := obs.NewOtelMetrics()

	coord := coordinator.New(cfg.StoragePath, st, emb, coordinator.ChunkOptionsFrom(cfg.Chunking), metrics, logger)
	planner := query.New(llm, emb)
	retriever := retrieve.New(st, rr, retrieve.Options{
		InitialTopK:      cfg.Retrieval.InitialTopK,
		TopKResults:      cfg.Retrieval.TopKResults,
		MaxPerDoc:        cfg.Retrieval.MaxPerDoc,
		EnforceDiversity: cfg.Retrieval.EnforceDiversity,
		RerankThreshold:  cfg.Retrieval.RerankThreshold,
	})
	composer := answer.New(planner, retriever, llm, cfg.Answer)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	httpapi.New(coord, st, composer, cfg.Upload).Register(e)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
