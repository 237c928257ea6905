package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/memory"
)

func newStarCmd() *cobra.Command {
	var (
		persona string
		remove  bool
		list    bool
	)

	cmd := &cobra.Command{
		Use:   "star [turn-id]",
		Short: "Pin a conversation turn so it always appears in context",
		Long: `Starred turns are carried verbatim into every assembled context,
after the working memory tier. With no id, the most recent turn is starred.

Examples:
  reverie star                 # star the latest turn
  reverie star 3f2a...         # star a specific turn
  reverie star 3f2a... --remove
  reverie star --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobal()
			if err != nil {
				cfg = config.DefaultGlobal()
			}
			if persona == "" {
				persona = cfg.DefaultPersona
			}

			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			store := memory.NewStore(database)

			if list {
				starred, err := store.StarredTurns(cfg.UserID, persona)
				if err != nil {
					return fmt.Errorf("list starred: %w", err)
				}
				if len(starred) == 0 {
					fmt.Println("No starred turns.")
					return nil
				}
				for _, e := range starred {
					fmt.Printf("[%s] %s\n  > %s\n  id: %s\n",
						e.CreatedAt.Format("2006-01-02 15:04"), e.UserText, truncateLabel(e.ResponseText, 120), e.ID)
				}
				return nil
			}

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				turns, err := store.LastTurns(cfg.UserID, persona, 1)
				if err != nil || len(turns) == 0 {
					return fmt.Errorf("no turns recorded yet")
				}
				id = turns[0].ID
			}

			if err := store.SetStarred(id, !remove); err != nil {
				return fmt.Errorf("update star: %w", err)
			}
			if remove {
				fmt.Printf("Unstarred turn %s.\n", id)
			} else {
				fmt.Printf("Starred turn %s.\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&persona, "persona", "p", "", "persona whose turns to act on")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the star instead of adding it")
	cmd.Flags().BoolVar(&list, "list", false, "list starred turns")

	return cmd
}

// truncateLabel shortens s to at most n characters for display.
func truncateLabel(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
