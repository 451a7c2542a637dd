// ct is the codex-teams CLI for coordinating local multi-agent sessions.
package main

import (
	"os"

	"github.com/codexteams/codexteams/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
