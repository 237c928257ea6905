package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/memory"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b[^\[a-zA-Z]|\r`)

func newWrapCmd() *cobra.Command {
	var (
		persona  string
		noInject bool
	)

	cmd := &cobra.Command{
		Use:   "wrap <tool> [tool-args...]",
		Short: "Wrap an AI CLI tool and record the session into memory",
		Long: `Launch an AI CLI tool (claude, gemini, etc.) as a child process, proxy
all I/O transparently, and on exit record the session as a conversation
turn so future Reverie contexts remember it.

Assembled memory context is injected as the tool's first message unless
--no-inject is set.

Examples:
  reverie wrap gemini
  reverie wrap claude --model claude-sonnet-4-6
  reverie wrap ollama run llama3.2`,
		Args:               cobra.MinimumNArgs(1),
		SilenceUsage:       true,
		TraverseChildren:   true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			toolName := args[0]
			toolArgs := args[1:]

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

			// Build the context preamble to inject into the wrapped tool.
			var contextPreamble string
			if !noInject {
				if assembler, err := newAssembler(database, cfg, logger); err == nil {
					built, err := assembler.Assemble(cmd.Context(), assembleOptions(cfg, persona, "", ""))
					if err == nil && built.Text != "" {
						contextPreamble = "Here is memory context from previous sessions (provided by Reverie):\n\n" +
							built.Text +
							"\nPlease acknowledge this context and continue from where we left off.\n"
						fmt.Fprintf(os.Stderr, "[reverie] injecting memory context into %s...\n", toolName)
					}
				}
			}

			// Capture buffer, filled by the TeeReader in runInPTY.
			var captureBuf bytes.Buffer

			// Run the child in a PTY (or plain exec if not a terminal).
			var runErr error
			if term.IsTerminal(int(os.Stdin.Fd())) {
				runErr = runInPTY(toolName, toolArgs, &captureBuf, contextPreamble)
			} else {
				runErr = runWithoutPTY(toolName, toolArgs, &captureBuf, contextPreamble)
			}
			if runErr != nil {
				fmt.Fprintf(os.Stderr, "\n[reverie wrap] %s exited: %v\n", toolName, runErr)
			}

			capturedClean := stripAnsi(captureBuf.String())
			if len(capturedClean) < 50 {
				return nil // too short to be meaningful
			}

			fmt.Fprintf(os.Stderr, "\n[reverie wrap] recording session...\n")

			store := memory.NewStore(database)
			vectors := memory.NewVectorStore(database)

			var compressor *memory.Compressor
			if llm, err := buildLLM(cfg, ""); err == nil {
				compressor = memory.NewCompressor(llm)
			}
			recorder := memory.NewRecorder(store, vectors, compressor, buildEmbedder(cfg), logger)

			entry, err := recorder.RecordTurn(cfg.UserID, persona,
				fmt.Sprintf("(wrapped %s session)", toolName),
				truncateLabel(capturedClean, 8000))
			if err != nil {
				return fmt.Errorf("record session: %w", err)
			}

			if compressor != nil {
				cctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if _, err := recorder.CompressTurn(cctx, entry); err == nil {
					fmt.Fprintf(os.Stderr, "[reverie wrap] session compressed into memory\n")
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&persona, "persona", "p", "", "persona whose memory to inject and record to")
	cmd.Flags().BoolVar(&noInject, "no-inject", false, "skip injecting memory context into the wrapped tool")

	return cmd
}

// runInPTY launches toolName in a pseudo-terminal, proxying all I/O.
// If contextPreamble is non-empty, it is written to the child's stdin
// as the first message after a brief startup delay.
// Output is tee'd into capture. Returns when the child exits.
func runInPTY(toolName string, toolArgs []string, capture *bytes.Buffer, contextPreamble string) error {
	cmd := exec.Command(toolName, toolArgs...)
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty start: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	// Forward terminal resize events to the child.
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	go func() {
		for range winchCh {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winchCh <- syscall.SIGWINCH // set initial size
	defer func() { signal.Stop(winchCh); close(winchCh) }()

	// Raw mode: every keystroke (including Ctrl+C) goes to the child.
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	// stdin → child (with optional context injection)
	go func() {
		if contextPreamble != "" {
			// Wait for the tool to initialize before injecting context.
			time.Sleep(800 * time.Millisecond)
			_, _ = ptmx.Write([]byte(contextPreamble))
		}
		_, _ = io.Copy(ptmx, os.Stdin)
	}()

	// child → stdout + capture buffer
	_, _ = io.Copy(os.Stdout, io.TeeReader(ptmx, capture))

	return cmd.Wait()
}

// runWithoutPTY runs the tool without a PTY (for non-terminal contexts).
// If contextPreamble is non-empty, it is prepended to stdin.
func runWithoutPTY(toolName string, toolArgs []string, capture *bytes.Buffer, contextPreamble string) error {
	cmd := exec.Command(toolName, toolArgs...)
	cmd.Env = os.Environ()
	if contextPreamble != "" {
		cmd.Stdin = io.MultiReader(strings.NewReader(contextPreamble), os.Stdin)
	} else {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = io.MultiWriter(os.Stdout, capture)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// stripAnsi removes ANSI escape codes, carriage returns, and collapses
// excessive blank lines from PTY-captured output.
func stripAnsi(s string) string {
	clean := ansiEscape.ReplaceAllString(s, "")
	clean = regexp.MustCompile(`\n{3,}`).ReplaceAllString(clean, "\n\n")
	return strings.TrimSpace(clean)
}
