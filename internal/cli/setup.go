package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/reverie-ai/reverie/internal/config"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-time configuration",
		Long:  "Configure API keys, default LLM model, embedding provider, and persona for Reverie.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("Welcome to Reverie! Let's configure your perpetual-memory companion.")
			fmt.Println()

			cfg := config.DefaultGlobal()

			// Step 1: Choose LLM provider.
			fmt.Println("Which LLM do you primarily use?")
			fmt.Println("  [1] Claude (Anthropic)")
			fmt.Println("  [2] OpenAI (GPT-4o)")
			fmt.Println("  [3] Ollama (local)")
			fmt.Print("> ")

			choice := readLineBuf(reader)
			switch strings.TrimSpace(choice) {
			case "1":
				cfg.DefaultModel = "claude"
				if key := readSecret("Enter your Anthropic API key (or press Enter to set ANTHROPIC_API_KEY later): "); key != "" {
					cfg.Keys.Anthropic = key
				}
			case "2":
				cfg.DefaultModel = "openai"
				if key := readSecret("Enter your OpenAI API key (or press Enter to set OPENAI_API_KEY later): "); key != "" {
					cfg.Keys.OpenAI = key
				}
			case "3":
				cfg.DefaultModel = "ollama"
			default:
				fmt.Println("Unrecognized choice; defaulting to claude.")
				cfg.DefaultModel = "claude"
			}

			fmt.Println()

			// Step 2: Choose embedding provider.
			fmt.Println("For embeddings (semantic memory retrieval), use:")
			fmt.Println("  [1] Local embeddings via Ollama (private, free, requires Ollama)")
			fmt.Println("  [2] OpenAI embeddings (better quality, small cost)")
			fmt.Print("> ")

			embedChoice := readLineBuf(reader)
			switch strings.TrimSpace(embedChoice) {
			case "2":
				cfg.DefaultEmbedder = "openai"
				if cfg.Keys.OpenAI == "" {
					cfg.Keys.OpenAI = readSecret("Enter your OpenAI API key: ")
				}
			default:
				cfg.DefaultEmbedder = "ollama"
				fmt.Printf("Ollama host (press Enter for %s): ", cfg.Ollama.Host)
				if host := readLineBuf(reader); host != "" {
					cfg.Ollama.Host = host
				}
			}

			fmt.Println()

			// Step 3: Name the default persona.
			fmt.Printf("Name your companion (press Enter for %q): ", cfg.DefaultPersona)
			if name := readLineBuf(reader); name != "" {
				cfg.DefaultPersona = name
			}

			fmt.Println()

			if err := config.SaveGlobal(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			path, _ := config.GlobalConfigPath()
			fmt.Printf("Configuration saved to %s\n", path)
			fmt.Println("Run `reverie chat` to start talking.")

			return nil
		},
	}
}

// readLineBuf reads a trimmed line from a bufio.Reader.
func readLineBuf(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

// readSecret reads a line without echoing it when stdin is a terminal.
func readSecret(prompt string) string {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
	return readLineBuf(bufio.NewReader(os.Stdin))
}
