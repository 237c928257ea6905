package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/ingest"
	"github.com/reverie-ai/reverie/internal/memory"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Ingest documents into long-term memory",
		Long: `Upload one or more documents. Each file is compressed into a description,
embedded, and becomes part of assembled contexts once ready.

Re-uploading a file you already ingested is a no-op.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			var failed int
			for _, path := range args {
				if err := uploadOne(cmd, pipeline, cfg, path); err != nil {
					fmt.Fprintf(os.Stderr, "  %s: %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}

func uploadOne(cmd *cobra.Command, pipeline *ingest.Pipeline, cfg config.GlobalConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("  "+filepath.Base(path)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	rec, err := pipeline.Process(cmd.Context(), data, filepath.Base(path), cfg.UserID, func(u ingest.ProgressUpdate) error {
		return bar.Set(u.Progress)
	})
	_ = bar.Finish()

	var dup *ingest.DuplicateError
	if errors.As(err, &dup) {
		fmt.Printf("  %s: already ingested (id: %s)\n", filepath.Base(path), dup.ExistingID)
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status == memory.StatusFailed {
		return fmt.Errorf("failed at %s: %s", rec.ProcessingStage, rec.ErrorMessage)
	}

	fmt.Printf("  %s: ready (id: %s)\n", rec.Filename, rec.ID)
	return nil
}
