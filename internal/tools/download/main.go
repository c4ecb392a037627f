// Command download fetches an interpreter module for local development:
//
//	go run ./internal/tools/download <url> <output>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/houyanchao/coderun/internal/fetch"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: download <url> <output>")
		os.Exit(1)
	}

	url, output := os.Args[1], os.Args[2]

	if _, err := os.Stat(output); err == nil {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := fetch.Module(ctx, fetch.NewClient(), url, output); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
