// Command streampipe copies standard input to standard output, line by
// line, through a chain of line stages.
//
// Usage:
//
//	streampipe [flags] [stage...]
//
// Stages are given as type or type=argument, e.g.
//
//	streampipe upper 'prefix=> ' head=10 < input.txt
//
// Stages may also be read from a YAML file, see --config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
