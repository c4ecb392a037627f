package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/executor"
	"github.com/houyanchao/coderun/hostfunc"
	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/internal/fetch"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/language/python"
	"github.com/houyanchao/coderun/language/ruby"
	"github.com/houyanchao/coderun/language/wasi"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <language> <url>",
	Short: "Download a WebAssembly interpreter for python or ruby",
	Long: `Download a WASI interpreter module into the module cache and compile it.

The module is stored as <cache_dir>/modules/<language>.wasm, or at
runtimes.<language>.module when that is configured. gzip and zstd
compressed downloads are unpacked.`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the compilation cache (downloaded modules are kept)",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	fetchCmd.Flags().Bool("force", false, "Replace an existing module")
	fetchCmd.Flags().Duration("timeout", 10*time.Minute, "Download timeout")
	rootCmd.AddCommand(fetchCmd)

	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func wasiModule(id, path string) (*wasi.Module, error) {
	switch id {
	case language.Python:
		return python.Module(path), nil
	case language.Ruby:
		return ruby.Module(path), nil
	}
	return nil, fmt.Errorf("%s does not use a downloaded interpreter", id)
}

func modulePath(cfg *config.Config, id string) string {
	if p := cfg.Runtime(id).Module; p != "" {
		return p
	}
	return filepath.Join(app.ModuleDir(cfg), id+".wasm")
}

func runFetch(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	id, err := getLanguage(args[0], "")
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dest := modulePath(cfg, id)
	mod, err := wasiModule(id, dest)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(dest); err == nil && !force {
		fmt.Fprintf(out, "%s already exists (use --force to replace)\n", dest)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fmt.Fprintf(out, "Downloading %s...\n", args[1])
	if err := fetch.Module(ctx, fetch.NewClient(), args[1], dest); err != nil {
		return err
	}

	fmt.Fprintf(out, "Compiling %s interpreter...\n", id)
	opts := []executor.ExecutorOption{executor.WithPrecompile(mod)}
	if cfg.Sandbox.DiskCache {
		opts = append(opts, executor.WithDiskCache(cfg.Sandbox.CacheDir))
	}
	exec, err := executor.New(hostfunc.NewRegistry(), opts...)
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("module does not compile: %w", err)
	}
	exec.Close()

	fmt.Fprintf(out, "Installed %s\n", dest)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.Sandbox.CacheDir
	if dir == "" {
		dir = executor.DefaultCacheDir()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty.")
			return nil
		}
		return err
	}
	modules := filepath.Base(app.ModuleDir(cfg))
	for _, e := range entries {
		if e.Name() == modules {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}
