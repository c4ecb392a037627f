package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/logger"
)

// errFailed is returned when guest code failed. Its events have already been
// printed, so Execute only sets the exit status.
var errFailed = errors.New("execution failed")

var rootCmd = &cobra.Command{
	Use:   "coderun [file]",
	Short: "Sandboxed code runner for Python, JavaScript, Lua, SQL and more",
	Long: `coderun - Run snippets in sandboxed interpreters.

Python and Ruby run as WebAssembly modules (see 'coderun fetch'); JavaScript,
TypeScript, Lua and SQL run in embedded interpreters; HTML, JSON, YAML and
TOML documents are validated and rendered. Interpreter state persists between
executions in the REPL and the servers.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun, // Default to run command behavior
}

var configPath string

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: coderun.yaml in ., ./config or the user config dir)")
	rootCmd.PersistentFlags().StringP("lang", "l", "", "Language id or alias (default: from file extension)")

	addRunFlags(rootCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newApp loads the configuration and builds the runtime for a one-shot
// command. The caller closes the App.
func newApp() (*app.App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, log, nil)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func getLanguage(langFlag string, filename string) (string, error) {
	if langFlag != "" {
		id, ok := language.Resolve(strings.ToLower(langFlag))
		if !ok {
			return "", fmt.Errorf("unknown language %q: see 'coderun languages'", langFlag)
		}
		return id, nil
	}
	if filename != "" {
		if id, ok := language.ForExtension(strings.ToLower(filepath.Ext(filename))); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("language required: use --lang or a file with a known extension")
}
