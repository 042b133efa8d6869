// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/app"
	"github.com/your-org/broiler-assistant/internal/assistant"
	"github.com/your-org/broiler-assistant/internal/chroma"
	"github.com/your-org/broiler-assistant/internal/chunker"
	"github.com/your-org/broiler-assistant/internal/comparison"
	"github.com/your-org/broiler-assistant/internal/config"
	"github.com/your-org/broiler-assistant/internal/performance"
	"github.com/your-org/broiler-assistant/internal/router"
)

// embedBatchSize bounds one embeddings request
const embedBatchSize = 64

type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "assistantctl",
		Short:         "Operate the broiler assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level to stderr")

	root.AddCommand(
		newSeedCmd(opts),
		newIndexCmd(opts),
		newRouteCmd(opts),
		newAskCmd(opts),
		newCompareCmd(opts),
	)
	return root
}

// load reads configuration without the server-only validation, so the
// CLI works without an OpenAI key
func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: o.configPath})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"}
	if o.verbose {
		logging.Level = "debug"
	}
	logger, err := config.NewLogger(logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (o *options) open(ctx context.Context) (*app.App, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func newSeedCmd(opts *options) *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load performance standards and documents into the structured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if seedPath == "" {
				seedPath = cfg.Performance.SeedPath
			}

			seed, err := performance.LoadSeedFile(seedPath)
			if err != nil {
				return err
			}

			store, err := performance.NewStore(cfg.Performance.DBPath, logger)
			if err != nil {
				return fmt.Errorf("failed to open performance store: %w", err)
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			standards := seed.Standards()
			if err := store.Upsert(ctx, standards); err != nil {
				return err
			}
			for _, doc := range seed.Documents {
				if err := store.AddDocument(ctx, doc); err != nil {
					return fmt.Errorf("document %s: %w", doc.ID, err)
				}
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d standards and %d documents from %s\n",
				len(standards), len(seed.Documents), seedPath)
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&seedPath, "file", "", "Seed YAML file (defaults to performance.seed_path)")
	return cmd
}

func newIndexCmd(opts *options) *cobra.Command {
	var chunkSize int
	var skipVectors bool

	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Split markdown articles into passages and index them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			passages, err := collectPassages(args[0], chunkSize)
			if err != nil {
				return err
			}
			if len(passages) == 0 {
				return fmt.Errorf("no markdown articles found in %s", args[0])
			}

			for _, p := range passages {
				if err := a.Store.AddDocument(ctx, storedDocument(p)); err != nil {
					return fmt.Errorf("passage %s: %w", p.ID, err)
				}
			}

			vectors := 0
			if !skipVectors && a.OpenAI != nil {
				if vectors, err = indexVectors(ctx, a, passages); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d passages (%d embedded)\n", len(passages), vectors)
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunker.DefaultChunkSize, "Maximum passage size in bytes")
	cmd.Flags().BoolVar(&skipVectors, "skip-vectors", false, "Only write passages to the keyword store")
	return cmd
}

// collectPassages walks dir, or reads the single file it names, for .md
// files in lexical order. Each file's path relative to dir, without
// extension and with / replaced by -, becomes its document id.
func collectPassages(dir string, chunkSize int) ([]chunker.Passage, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	base := dir
	if !info.IsDir() {
		base = filepath.Dir(dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)

	var passages []chunker.Passage
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil, err
		}
		docID := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
		docID = strings.ReplaceAll(docID, "/", "-")

		found, err := chunker.Passages(docID, string(content), chunkSize)
		if err != nil {
			return nil, err
		}
		passages = append(passages, found...)
	}
	return passages, nil
}

func storedDocument(p chunker.Passage) performance.Document {
	title := p.Title
	if p.Section != "" && p.Section != p.Title {
		title += " / " + p.Section
	}
	return performance.Document{
		ID:      p.ID,
		Title:   title,
		Content: p.Content,
		Breed:   p.Meta.Breed,
		Species: p.Meta.Species,
		Topic:   p.Meta.Topic,
	}
}

func indexVectors(ctx context.Context, a *app.App, passages []chunker.Passage) (int, error) {
	if _, err := a.Chroma.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	for start := 0; start < len(passages); start += embedBatchSize {
		end := min(start+embedBatchSize, len(passages))
		batch := passages[start:end]

		texts := make([]string, len(batch))
		docs := make([]chroma.Document, len(batch))
		for i, p := range batch {
			texts[i] = p.Content
			docs[i] = chroma.Document{ID: p.ID, Content: p.Content, Metadata: p.Metadata()}
		}

		embeddings, err := a.OpenAI.EmbedTexts(ctx, texts)
		if err != nil {
			return start, err
		}
		if err := a.Chroma.AddDocuments(ctx, docs, embeddings); err != nil {
			return start, err
		}
	}
	return len(passages), nil
}

func newRouteCmd(opts *options) *cobra.Command {
	var tenant, lang string

	cmd := &cobra.Command{
		Use:   "route <message>",
		Short: "Show the routing decision for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			decision, err := a.Router.Route(ctx, router.Request{
				TenantID: tenant,
				Query:    strings.Join(args, " "),
				Language: lang,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decision)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "cli", "Tenant id")
	cmd.Flags().StringVar(&lang, "lang", "", "Language (en, fr, es); detected when empty")
	return cmd
}

func newAskCmd(opts *options) *cobra.Command {
	var tenant, lang string

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run a message through the full pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.Assistant.Handle(ctx, assistant.Request{
				TenantID: tenant,
				Message:  strings.Join(args, " "),
				Language: lang,
			})
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "cli", "Tenant id")
	cmd.Flags().StringVar(&lang, "lang", "", "Language (en, fr, es); detected when empty")
	return cmd
}

func newCompareCmd(opts *options) *cobra.Command {
	var lang string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "compare <text>",
		Short: "Compare two breeds, e.g. \"Ross 308 vs Cobb 500 body weight at 35 days\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args, " ")
			left, right, ok := a.Comparison.Subjects(text, lang)
			if !ok {
				return fmt.Errorf("could not find two subjects to compare in %q", text)
			}

			outcome, err := a.Comparison.Compare(ctx, left, right, lang)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), outcome)
			}
			if outcome.Status != comparison.StatusSuccess {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", outcome.Status, outcome.Message)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome.Summary())
			for _, w := range outcome.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "  note: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "en", "Language for messages (en, fr, es)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full outcome as JSON")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
