package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/sandbox"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - :lang <id> switches language, :reset discards the interpreter state,
    :example prints the language's example program

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.coderun_history)")
	rootCmd.AddCommand(replCmd)
}

type repl struct {
	app    *app.App
	lang   string
	rl     *readline.Instance
	out    io.Writer
	errOut io.Writer
}

func runRepl(cmd *cobra.Command, args []string) error {
	lang, _ := cmd.Flags().GetString("lang")
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".coderun_history")
	}

	if lang == "" {
		lang = language.Lua
	}
	id, err := getLanguage(lang, "")
	if err != nil {
		return err
	}

	a, log, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	defer log.Sync()

	if !a.Registry.IsSupported(id) {
		return fmt.Errorf("%s is not available", id)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt(id),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	r := &repl{app: a, lang: id, rl: rl, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
	fmt.Fprintf(r.errOut, "coderun REPL (type 'exit' to quit, Ctrl+D to exit)\n")
	r.loop()
	return nil
}

func prompt(id string) string { return id + "> " }

func (r *repl) loop() {
	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					r.rl.SetPrompt(prompt(r.lang))
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(r.out)
				return
			}
			fmt.Fprintf(r.errOut, "Error reading input: %v\n", err)
			return
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			r.rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			r.rl.SetPrompt(prompt(r.lang))
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if strings.HasPrefix(line, ":") {
			r.command(line)
			continue
		}
		r.eval(line)
	}
}

func (r *repl) command(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":lang":
		if len(fields) != 2 {
			fmt.Fprintln(r.errOut, "usage: :lang <id>")
			return
		}
		id, err := getLanguage(fields[1], "")
		if err != nil || !r.app.Registry.IsSupported(id) {
			fmt.Fprintf(r.errOut, "Error: %s is not available\n", fields[1])
			return
		}
		r.lang = id
		r.rl.SetPrompt(prompt(id))
	case ":reset":
		if rn, ok := r.app.Registry.Runner(r.lang); ok {
			if err := rn.Cleanup(); err != nil {
				fmt.Fprintf(r.errOut, "Error: %v\n", err)
			}
		}
	case ":example":
		if rn, ok := r.app.Registry.Runner(r.lang); ok {
			fmt.Fprintln(r.out, rn.ExampleCode())
		}
	default:
		fmt.Fprintf(r.errOut, "unknown command %s (try :lang, :reset, :example)\n", fields[0])
	}
}

func (r *repl) eval(code string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err := r.app.Execute(ctx, r.lang, code, sandbox.Options{
		OnOutput: func(ev protocol.Event) { printEvent(r.out, r.errOut, ev) },
	})
	if err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
}
