// Command todosync is an optimistic client for a remote todo store.
package main

import (
	"os"

	"github.com/roach88/todosync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRootCommand()))
}
