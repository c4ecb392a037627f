package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/houyanchao/coderun/language"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List languages and whether they are available",
	Args:  cobra.NoArgs,
	RunE:  runLanguages,
}

var exampleCmd = &cobra.Command{
	Use:   "example <language>",
	Short: "Print a language's example program",
	Args:  cobra.ExactArgs(1),
	RunE:  runExample,
}

func init() {
	rootCmd.AddCommand(languagesCmd, exampleCmd)
}

func runLanguages(cmd *cobra.Command, args []string) error {
	a, log, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	defer log.Sync()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEXTENSION\tENGINE\tSTATUS")
	for _, d := range language.Table() {
		status := "available"
		switch {
		case a.Config().Runtime(d.ID).Disabled:
			status = "disabled"
		case !a.Registry.IsSupported(d.ID):
			status = "unavailable"
			if strings.HasPrefix(d.Engine, "wasm-") {
				status = "module missing (coderun fetch " + d.ID + " <url>)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.DisplayName, d.FileExtension, d.Engine, status)
	}
	return tw.Flush()
}

func runExample(cmd *cobra.Command, args []string) error {
	id, err := getLanguage(args[0], "")
	if err != nil {
		return err
	}
	a, log, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	defer log.Sync()

	r, ok := a.Registry.Runner(id)
	if !ok {
		return fmt.Errorf("%s is not available", id)
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.ExampleCode())
	return nil
}
