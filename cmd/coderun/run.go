package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/houyanchao/coderun/language/sql"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/sandbox"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run code once and print its output",
	Long: `Execute code in a sandboxed interpreter.

Code can be provided via:
  - File argument: coderun run script.lua
  - Inline flag: coderun run -l python -c 'print(1+1)'
  - Stdin: echo 'SELECT 1' | coderun run -l sql`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().Duration("timeout", 0, "Execution timeout (default: the language's configured timeout)")
	cmd.Flags().Bool("json", false, "Print the result and events as JSON")
}

type runOutput struct {
	Result     sandbox.Result   `json:"result"`
	DurationMs float64          `json:"duration_ms"`
	Events     []protocol.Event `json:"events"`
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	lang, _ := cmd.Flags().GetString("lang")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	asJSON, _ := cmd.Flags().GetBool("json")

	var source string
	var filename string

	switch {
	case code != "":
		source = code
	case len(args) > 0:
		filename = args[0]
		data, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		source = string(data)
	default:
		// Check if stdin has data (not a terminal)
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return cmd.Help()
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		source = string(data)
		if source == "" {
			return cmd.Help()
		}
	}

	id, err := getLanguage(lang, filename)
	if err != nil {
		return err
	}

	a, log, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	opts := sandbox.Options{Timeout: timeout}
	if !asJSON {
		opts.OnOutput = func(ev protocol.Event) { printEvent(out, errOut, ev) }
	}

	res, events, err := a.Collect(ctx, id, source, opts)
	if err != nil {
		return err
	}

	if asJSON {
		if events == nil {
			events = []protocol.Event{}
		}
		data, err := sonic.ConfigStd.MarshalIndent(runOutput{Result: res, DurationMs: res.DurationMs(), Events: events}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	}
	if !res.Success {
		return errFailed
	}
	return nil
}

// printEvent writes one event for a terminal. Diagnostics go to errOut.
func printEvent(out, errOut io.Writer, ev protocol.Event) {
	if t, ok := ev.Data.(sql.Table); ok {
		writeTable(out, t)
		return
	}
	switch ev.Kind {
	case protocol.KindError:
		fmt.Fprintf(errOut, "error: %s\n", formatData(ev.Data))
	case protocol.KindWarn:
		fmt.Fprintf(errOut, "warning: %s\n", formatData(ev.Data))
	case protocol.KindInfo:
		fmt.Fprintf(errOut, "%s\n", formatData(ev.Data))
	case protocol.KindResult:
		fmt.Fprintf(out, "=> %s\n", formatData(ev.Data))
	default:
		s := formatData(ev.Data)
		fmt.Fprint(out, s)
		if !strings.HasSuffix(s, "\n") {
			fmt.Fprintln(out)
		}
	}
}

func formatData(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	}
	s, err := sonic.MarshalString(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

func writeTable(w io.Writer, t sql.Table) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(w, "(%d row(s))\n", len(t.Rows))
}
