package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"localrag/internal/chunker"
	"localrag/internal/config"
	"localrag/internal/domain"
	"localrag/internal/embedding"
	"localrag/internal/embedding/hashing"
	"localrag/internal/embedding/openai"
	"localrag/internal/pkg/logger"
	"localrag/internal/service"
	"localrag/internal/snapshot"
)

const usage = `Usage: rag [-config=config.yaml] <command>

Commands:
  serve          start the HTTP server
  build          rebuild the index from the knowledge directory
  query <text>   print the retrieval context for text
  status         print the state of the persisted index
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/rag/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	lg.Debug("config loaded", zap.String("path", cfgPath))

	svc, err := newService(cfg, lg)
	if err != nil {
		lg.Fatal("failed to assemble service", zap.Error(err))
	}

	ctx := context.Background()
	switch args[0] {
	case "serve":
		for _, dir := range []string{cfg.Knowledge.Dir, cfg.Index.Dir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				lg.Fatal("failed to create directory", zap.String("dir", dir), zap.Error(err))
			}
		}
		_ = svc.Open(ctx)
		if err := NewApp(cfg.Server, svc, lg).Run(); err != nil {
			lg.Fatal("server stopped", zap.Error(err))
		}
	case "build":
		report, err := svc.Build(ctx)
		if err != nil {
			lg.Fatal("build failed", zap.Error(err))
		}
		fmt.Printf("generation %s: %d files, %d chunks (%d skipped), dimension %d, %s\n",
			report.Generation, report.Files, report.Chunks, report.Skipped, report.Dimension,
			report.Duration.Round(time.Millisecond))
	case "query":
		text := strings.Join(args[1:], " ")
		if strings.TrimSpace(text) == "" {
			flag.Usage()
			os.Exit(2)
		}
		_ = svc.Open(ctx)
		res := svc.Query(ctx, text)
		if len(res.Sources) == 0 {
			fmt.Println("no relevant knowledge found")
			return
		}
		fmt.Print(res.Context)
		fmt.Printf("\nsources: %s\n", strings.Join(res.Sources, ", "))
	case "status":
		_ = svc.Open(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(svc.Stats()); err != nil {
			lg.Fatal("failed to print status", zap.Error(err))
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// newService assembles the engine from configuration.
func newService(cfg *config.AppConfig, lg *zap.Logger) (*service.RAGService, error) {
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing":
		emb = hashing.NewEmbedder(cfg.Embedder.Hashing.Dimension)
	case "openai":
		oc := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:           oc.BaseURL,
			APIKeyEnv:         oc.APIKeyEnv,
			Model:             oc.Model,
			Timeout:           time.Duration(oc.TimeoutSecs) * time.Second,
			RequestsPerSecond: oc.RequestsPerSecond,
			Retry:             oc.Retry,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var opts []service.Option
	if cfg.Embedder.Cache.TTL > 0 {
		opts = append(opts, service.WithQueryEmbedder(
			embedding.NewCached(emb, cfg.Embedder.Cache.TTL, cfg.Embedder.Cache.CleanupInterval)))
	}

	compression, err := snapshot.ParseCompression(cfg.Index.Compression)
	if err != nil {
		return nil, err
	}
	store := snapshot.NewStore(cfg.Index.Dir, compression, lg.Named("snapshot"))

	ch := chunker.NewWindowChunker(cfg.Chunker.WindowSize, cfg.Chunker.Overlap, cfg.Chunker.MinLength)

	svcCfg := service.Config{
		KnowledgeDir: cfg.Knowledge.Dir,
		Extensions:   cfg.Knowledge.Extensions,
		Normalize:    cfg.Index.Normalize,
		Candidates:   cfg.Ranking.Candidates,
		BonusWeight:  cfg.Ranking.BonusWeight,
		MaxPerSource: cfg.Ranking.MaxPerSource,
		TotalResults: cfg.Ranking.TotalResults,
		Concurrency:  cfg.Embedder.Concurrency,
	}
	lg.Info("engine configured",
		zap.String("embedder", emb.Name()),
		zap.String("knowledge_dir", svcCfg.KnowledgeDir),
		zap.String("index_dir", cfg.Index.Dir),
		zap.Bool("normalize", svcCfg.Normalize),
		zap.Float64("bonus_weight", cfg.EffectiveBonusWeight()),
	)
	return service.NewRAGService(svcCfg, ch, emb, store, lg.Named("service"), opts...), nil
}
