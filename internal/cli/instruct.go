package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/memory"
)

func newInstructCmd() *cobra.Command {
	var (
		persona string
		global  bool
		list    bool
	)

	cmd := &cobra.Command{
		Use:   "instruct [instruction]",
		Short: "Record a standing instruction for future conversations",
		Long: `Standing instructions are injected into every assembled context for the
persona they are scoped to (or all personas when --global is set).

Examples:
  reverie instruct "Always answer in French"
  reverie instruct "Keep replies under three paragraphs" --global
  reverie instruct --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobal()
			if err != nil {
				cfg = config.DefaultGlobal()
			}
			if persona == "" {
				persona = cfg.DefaultPersona
			}
			logger := newLogger(cfg)

			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			store := memory.NewStore(database)

			if list {
				scopes := []string{memory.ScopeGlobal, persona}
				instructions, err := store.Instructions(cfg.UserID, scopes)
				if err != nil {
					return fmt.Errorf("list instructions: %w", err)
				}
				if len(instructions) == 0 {
					fmt.Println("No standing instructions.")
					return nil
				}
				for _, ins := range instructions {
					fmt.Printf("[%s] %s\n  id: %s | added: %s\n",
						ins.InstructionScope, ins.UserEssence, ins.ID, ins.CreatedAt.Format("2006-01-02 15:04"))
				}
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("provide an instruction, or use --list")
			}
			text := strings.Join(args, " ")

			scope := persona
			if global {
				scope = memory.ScopeGlobal
			}

			vectors := memory.NewVectorStore(database)
			recorder := memory.NewRecorder(store, vectors, nil, buildEmbedder(cfg), logger)
			ins, err := recorder.AddInstruction(cfg.UserID, persona, text, scope)
			if err != nil {
				return fmt.Errorf("add instruction: %w", err)
			}

			fmt.Printf("Instruction recorded for %s (id: %s).\n", scope, ins.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&persona, "persona", "p", "", "persona the instruction applies to")
	cmd.Flags().BoolVar(&global, "global", false, "apply to every persona")
	cmd.Flags().BoolVar(&list, "list", false, "list standing instructions")

	return cmd
}
