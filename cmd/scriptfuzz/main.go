// Command scriptfuzz is a grammar and relation guided fuzzer for
// applications that expose a scripting API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/scriptfuzz/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintln(os.Stderr, "scriptfuzz:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
