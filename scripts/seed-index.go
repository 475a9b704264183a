// Seeds a search proxy index from a directory of text files, for local
// development and demos. Each file becomes one document run through the
// same chunk-embed-upload pipeline the backend uses:
//
//	go run ./scripts -i faa-agent --doc-type cfr ./testdata/regs
//
// The proxy must be running and COHERE_API_KEY set (or pass --config
// pointing at the same file the services use).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/embedder"
	"github.com/tudor-baraboi/cfr-agents/pkg/indexer"
	"github.com/tudor-baraboi/cfr-agents/pkg/logger"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

type seedCLI struct {
	Dir     string `arg:"" help:"Directory of text files to index." type:"existingdir"`
	Index   string `short:"i" default:"faa-agent" help:"Target index name."`
	DocType string `name:"doc-type" enum:"cfr,drs,aps" default:"cfr" help:"Document type recorded on every chunk."`
	Config  string `short:"c" type:"path" help:"Configuration file (defaults apply without one)."`
}

func main() {
	_ = config.LoadEnvFiles()

	var cli seedCLI
	kong.Parse(&cli,
		kong.Name("seed-index"),
		kong.Description("Seed a search proxy index from local files."),
		kong.UsageOnError(),
	)

	// Component logs stay out of the way; the script reports per file.
	logger.Init(slog.LevelWarn, os.Stderr, "")

	if err := run(context.Background(), &cli); err != nil {
		fmt.Fprintf(os.Stderr, "seed-index: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cli *seedCLI) error {
	var cfg *config.Config
	var err error
	if cli.Config != "" {
		cfg, err = config.LoadConfig(config.LoaderOptions{Type: config.ConfigTypeFile, Path: cli.Config})
	} else {
		cfg, err = config.ProcessConfigPipeline(&config.Config{})
	}
	if err != nil {
		return err
	}

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}
	defer emb.Close()

	// No cache involved: seeds go straight through the pipeline.
	store, err := cache.NewStore(config.CacheConfig{Enabled: config.BoolPtr(false)})
	if err != nil {
		return err
	}

	ix, err := indexer.New(store, emb, proxyclient.New(cfg.SearchProxy), cfg.Index)
	if err != nil {
		return fmt.Errorf("building indexer: %w", err)
	}

	docType := envelopeDocType(cli.DocType)
	files, chunks := 0, 0

	err = filepath.Walk(cli.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  skipping %s: %v\n", path, err)
			return nil
		}

		rel, err := filepath.Rel(cli.Dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		docID := strings.TrimSuffix(rel, filepath.Ext(rel))

		env := &cache.Envelope{
			Content:  string(content),
			DocType:  docType,
			DocID:    docID,
			Title:    documentTitle(string(content), docID),
			CachedAt: time.Now().UTC(),
		}

		n, err := ix.Process(ctx, indexer.Job{
			IndexName: cli.Index,
			Env:       env,
			SourceURL: "file://" + rel,
		})
		if err != nil {
			return fmt.Errorf("indexing %s: %w", rel, err)
		}

		files++
		chunks += n
		fmt.Printf("  indexed %s (%d chunks)\n", rel, n)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Seeded %s: %d files, %d chunks\n", cli.Index, files, chunks)
	return nil
}

func envelopeDocType(short string) string {
	switch short {
	case "drs":
		return cache.DocTypeDRSDocument
	case "aps":
		return cache.DocTypeADAMSDocument
	default:
		return cache.DocTypeCFRSection
	}
}

// documentTitle uses the first non-empty line, the way regulation
// texts lead with their section heading.
func documentTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > 120 {
				line = line[:120]
			}
			return line
		}
	}
	return fallback
}
