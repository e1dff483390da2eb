// Command repminer replays a colony network's reputation mining cycle,
// submits the resulting root hash and defends it in the dispute protocol.
//
// Usage:
//
//	repminer run     [flags]   replay, submit and answer challenges
//	repminer replay  [flags]   replay only and print the roots
//	repminer version
//
// Every flag can also be set in the TOML file given by --config or through
// a REPMINER_<FLAG> environment variable, e.g. REPMINER_RPC_URL.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the actual entry point, returning an exit code. It takes the CLI
// arguments without the program name so it can be tested in isolation.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
