package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/memory"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show memory store statistics",
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

			turns, _ := store.CountTurns(cfg.UserID)
			compressed, _ := store.CountNonInstruction(cfg.UserID)
			instructions, _ := store.Instructions(cfg.UserID, []string{memory.ScopeGlobal, cfg.DefaultPersona})
			files, _ := store.ListFiles(cfg.UserID)

			var ready, failed, inFlight int
			for _, f := range files {
				switch f.Status {
				case memory.StatusReady:
					ready++
				case memory.StatusFailed:
					failed++
				default:
					inFlight++
				}
			}

			dbPath, _ := config.DBPath()

			fmt.Printf("User:         %s\n", cfg.UserID)
			fmt.Printf("Persona:      %s\n", cfg.DefaultPersona)
			fmt.Printf("Model:        %s (embedder: %s)\n", cfg.DefaultModel, cfg.DefaultEmbedder)
			fmt.Printf("Turns:        %d recorded\n", turns)
			fmt.Printf("Memories:     %d compressed, %d standing instructions\n", compressed, len(instructions))
			fmt.Printf("Files:        %d ready", ready)
			if inFlight > 0 {
				fmt.Printf(", %d processing", inFlight)
			}
			if failed > 0 {
				fmt.Printf(", %d failed", failed)
			}
			fmt.Println()
			fmt.Printf("Database:     %s\n", dbPath)

			if compressed <= cfg.Context.RetrievalThreshold {
				fmt.Printf("Retrieval:    inactive (%d/%d memories before semantic search engages)\n",
					compressed, cfg.Context.RetrievalThreshold)
			} else {
				fmt.Println("Retrieval:    active")
			}
			return nil
		},
	}
}
