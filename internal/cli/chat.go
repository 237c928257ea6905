package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/adapter"
	"github.com/reverie-ai/reverie/internal/config"
	ctxpkg "github.com/reverie-ai/reverie/internal/context"
	"github.com/reverie-ai/reverie/internal/memory"
)

const chatSystemPrompt = `You are Reverie, a companion with a long, persistent memory of your
conversations with this user. The context below is your memory: recent
conversation, starred moments, standing instructions, compressed history,
and uploaded documents. Treat it as things you genuinely remember.`

func newChatCmd() *cobra.Command {
	var (
		persona     string
		model       string
		contextOnly bool
		maxTokens   int
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk with your persona (interactive when no message is given)",
		Long: `Send a message with Reverie's assembled memory context, or start an
interactive session.

Every finished turn is recorded and compressed into long-term memory in the
background, so future conversations remember this one.

Examples:
  reverie chat "What did we decide about the trip?"
  reverie chat --persona muse
  reverie chat "Summarize the report I uploaded" --context-only`,
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

			assembler, err := newAssembler(database, cfg, logger)
			if err != nil {
				return err
			}

			llm, err := buildLLM(cfg, model)
			if err != nil {
				return fmt.Errorf("init LLM adapter: %w", err)
			}

			store := memory.NewStore(database)
			vectors := memory.NewVectorStore(database)
			recorder := memory.NewRecorder(store, vectors, memory.NewCompressor(llm), buildEmbedder(cfg), logger)

			sess := &chatSession{
				cfg:         cfg,
				persona:     persona,
				model:       model,
				maxTokens:   maxTokens,
				temperature: temperature,
				assembler:   assembler,
				llm:         llm,
				recorder:    recorder,
				logger:      logger,
			}
			defer sess.wait()

			if len(args) > 0 {
				message := strings.Join(args, " ")
				if contextOnly {
					return sess.printContext(cmd.Context(), message)
				}
				return sess.turn(cmd.Context(), message)
			}

			// Interactive loop.
			fmt.Printf("Chatting as %s. Ctrl-D or 'exit' to quit.\n\n", persona)
			reader := bufio.NewReader(os.Stdin)
			for {
				fmt.Print("> ")
				line, err := reader.ReadString('\n')
				if err != nil {
					fmt.Println()
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}
				if err := sess.turn(cmd.Context(), line); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&persona, "persona", "p", "", "persona to chat with (default from config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "LLM provider override: claude, openai, ollama")
	cmd.Flags().BoolVar(&contextOnly, "context-only", false, "print the assembled context without calling the LLM")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 4096, "maximum response tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature")

	return cmd
}

// chatSession holds the wiring for one chat invocation and tracks background
// compression so the process doesn't exit mid-write.
type chatSession struct {
	cfg         config.GlobalConfig
	persona     string
	model       string
	maxTokens   int
	temperature float64

	assembler *ctxpkg.Assembler
	llm       adapter.LLMAdapter
	recorder  *memory.Recorder
	logger    *slog.Logger

	compressWG sync.WaitGroup
}

// turn runs one full conversation turn: assemble, stream, record, compress.
func (s *chatSession) turn(ctx context.Context, message string) error {
	built, err := s.assembler.Assemble(ctx, assembleOptions(s.cfg, s.persona, s.model, message))
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	// Bound the provider call, including stream consumption, so a hung
	// server cannot wedge the session.
	cctx, cancel := context.WithTimeout(ctx, providerTimeout(s.cfg))
	defer cancel()

	stream, err := s.llm.Complete(cctx, adapter.CompletionRequest{
		SystemPrompt: chatSystemPrompt,
		Context:      built.Text,
		UserMessage:  message,
		Model:        completionModel(s.cfg, s.model),
		MaxTokens:    s.maxTokens,
		Temperature:  s.temperature,
		Stream:       s.cfg.Output.Stream,
	})
	if err != nil {
		return fmt.Errorf("LLM request: %w", err)
	}

	var response strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return fmt.Errorf("stream error: %w", chunk.Error)
		}
		fmt.Print(chunk.Text)
		response.WriteString(chunk.Text)
	}
	fmt.Println()

	entry, err := s.recorder.RecordTurn(s.cfg.UserID, s.persona, message, response.String())
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}

	// Compress off the critical path; the reply is already on screen.
	s.compressAsync(entry)

	return nil
}

// compressAsync distils a recorded turn into long-term memory in the
// background. Failures are logged, never surfaced to the user: the raw turn
// is already persisted and a later session can compress it.
func (s *chatSession) compressAsync(entry memory.Entry) {
	s.compressWG.Add(1)
	go func() {
		defer s.compressWG.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.recorder.CompressTurn(cctx, entry); err != nil {
			s.logger.Warn("background compression failed", "turn", entry.ID, "err", err)
		}
	}()
}

// printContext assembles and prints the context without calling the LLM.
func (s *chatSession) printContext(ctx context.Context, message string) error {
	built, err := s.assembler.Assemble(ctx, assembleOptions(s.cfg, s.persona, s.model, message))
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}
	fmt.Println(built.Text)
	fmt.Printf("--- %d / %d tokens", built.Stats.TotalTokens, built.Stats.Budget)
	if len(built.Stats.DegradedTiers) > 0 {
		fmt.Printf(" (degraded: %s)", strings.Join(built.Stats.DegradedTiers, ", "))
	}
	fmt.Println(" ---")
	return nil
}

// wait blocks until background compressions finish.
func (s *chatSession) wait() {
	s.compressWG.Wait()
}
