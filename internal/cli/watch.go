package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/ingest"
	"github.com/reverie-ai/reverie/internal/memory"
)

func newWatchCmd() *cobra.Command {
	var debounceMs int

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a folder and auto-ingest documents dropped into it",
		Long: `Start a long-running watcher that monitors a directory for new or changed
documents and feeds them through the ingestion pipeline.

Changes are debounced so that copying several files at once is batched into
a single ingest pass. A .reverieignore file in the watched directory
excludes paths using gitignore syntax.

Press Ctrl-C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if info, err := os.Stat(root); err != nil || !info.IsDir() {
				return fmt.Errorf("%s is not a directory", root)
			}

			cfg, err := config.LoadGlobal()
			if err != nil {
				cfg = config.DefaultGlobal()
			}
			logger := newLogger(cfg)

			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			pipeline, err := newPipeline(database, cfg, logger)
			if err != nil {
				return err
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer watcher.Close()

			ignore := ingest.NewIgnoreMatcher(root)

			// Add all non-ignored directories recursively.
			if err := addWatchDirs(watcher, root, ignore); err != nil {
				return fmt.Errorf("add watch directories: %w", err)
			}

			allowed := make(map[string]bool, len(cfg.Ingest.AllowedTypes))
			for _, ext := range cfg.Ingest.AllowedTypes {
				allowed[strings.ToLower(ext)] = true
			}

			debounce := time.Duration(debounceMs) * time.Millisecond

			fmt.Printf("Watching %s for documents (debounce %s). Press Ctrl-C to stop.\n", root, debounce)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle Ctrl-C gracefully.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			// Collect changed paths, debounce, then ingest.
			pending := make(map[string]bool)
			timer := time.NewTimer(debounce)
			timer.Stop() // Don't fire immediately.

			for {
				select {
				case <-sigCh:
					fmt.Println("\nStopping watcher.")
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}

					rel, err := filepath.Rel(root, event.Name)
					if err != nil || rel == "." {
						continue
					}
					if shouldIgnoreEvent(rel, ignore) {
						continue
					}

					// If a new directory was created, start watching it.
					if event.Has(fsnotify.Create) {
						if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
							if !ingest.HardIgnore(filepath.Base(event.Name)) {
								_ = watcher.Add(event.Name)
							}
							continue
						}
					}

					if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
						continue
					}
					if !allowed[strings.ToLower(filepath.Ext(rel))] {
						continue
					}

					pending[event.Name] = true
					timer.Reset(debounce)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(os.Stderr, "  watch error: %v\n", err)

				case <-timer.C:
					if len(pending) == 0 {
						continue
					}
					batch := pending
					pending = make(map[string]bool)

					ingestBatch(ctx, pipeline, cfg, batch)

				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().IntVar(&debounceMs, "debounce", 500, "debounce interval in milliseconds")

	return cmd
}

// addWatchDirs recursively adds directories to the watcher, skipping ignored ones.
func addWatchDirs(watcher *fsnotify.Watcher, root string, ignore *ingest.IgnoreMatcher) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if ingest.HardIgnore(d.Name()) {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(root, path)
		if rel != "." && ignore.Match(rel) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// shouldIgnoreEvent checks whether a relative path should be ignored by the watcher.
func shouldIgnoreEvent(rel string, ignore *ingest.IgnoreMatcher) bool {
	parts := strings.Split(rel, string(filepath.Separator))
	for _, p := range parts {
		if ingest.HardIgnore(p) {
			return true
		}
	}
	return ignore.Match(rel)
}

// ingestBatch runs each file in the batch through the pipeline, one goroutine
// per file. Duplicates are reported as skips, not failures.
func ingestBatch(ctx context.Context, pipeline *ingest.Pipeline, cfg config.GlobalConfig, batch map[string]bool) {
	var wg sync.WaitGroup
	for path := range batch {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()

			data, err := os.ReadFile(path)
			if err != nil {
				return // Removed between event and ingest.
			}

			name := filepath.Base(path)
			rec, err := pipeline.Process(ctx, data, name, cfg.UserID, nil)

			ts := time.Now().Format("15:04:05")
			var dup *ingest.DuplicateError
			switch {
			case errors.As(err, &dup):
				fmt.Printf("[%s] %s: already ingested\n", ts, name)
			case err != nil:
				fmt.Fprintf(os.Stderr, "[%s] %s: %v\n", ts, name, err)
			case rec.Status == memory.StatusFailed:
				fmt.Fprintf(os.Stderr, "[%s] %s: failed at %s: %s\n", ts, name, rec.ProcessingStage, rec.ErrorMessage)
			default:
				fmt.Printf("[%s] %s: ready\n", ts, name)
			}
		}(path)
	}
	wg.Wait()
}
