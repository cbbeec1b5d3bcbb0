// Command deployctl deploys the services of a swarm cluster with zero
// downtime: a staging unit takes over the stable name while the production
// unit is recreated.
//
// Usage:
//
//	deployctl deploy <service|all> [--tag TAG]
//	deployctl plan <service|all>
//	deployctl status <service|all>
//	deployctl services
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, dockerClientFactory)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, open ClientFactory) int {
	root := newRootCmd(stdout, stderr, open)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)

		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return cmdErr.ExitCode
		}
		return ExitConfigError
	}
	return ExitSuccess
}
