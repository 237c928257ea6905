package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/memory"
)

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files [id]",
		Short: "List uploaded documents and their ingestion status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobal()
			if err != nil {
				cfg = config.DefaultGlobal()
			}

			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			store := memory.NewStore(database)

			if len(args) == 1 {
				rec, err := store.GetFileByID(args[0])
				if err != nil {
					return fmt.Errorf("file not found: %w", err)
				}
				printFile(rec, true)
				return nil
			}

			files, err := store.ListFiles(cfg.UserID)
			if err != nil {
				return fmt.Errorf("list files: %w", err)
			}
			if len(files) == 0 {
				fmt.Println("No files uploaded. Use `reverie upload <file>` to add one.")
				return nil
			}
			for _, rec := range files {
				printFile(rec, false)
			}
			return nil
		},
	}
}

func printFile(rec memory.FileRecord, detail bool) {
	fmt.Printf("%-40s %-10s %3d%%  %s\n", rec.Filename, rec.Status, rec.Progress,
		rec.UploadedAt.Format("2006-01-02 15:04"))
	if rec.Status == memory.StatusFailed {
		fmt.Printf("  failed at %s: %s\n", rec.ProcessingStage, rec.ErrorMessage)
	}
	if detail {
		fmt.Printf("  id:   %s\n  type: %s\n  hash: %s\n", rec.ID, rec.FileType, rec.ContentHash)
		if rec.Description != "" {
			fmt.Printf("  description: %s\n", rec.Description)
		}
	}
}
