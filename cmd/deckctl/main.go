// Command deckctl runs the deck sync pipeline from a terminal and prints the
// result as a table or JSON. It reads the same environment as the server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/deckvault/cmd/deckctl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := commands.ExecuteContext(ctx)
	stop()
	os.Exit(code)
}
