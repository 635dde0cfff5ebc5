// Command streamcore runs the media-stream detection and
// download-orchestration core as a long-running daemon.
package main

import (
	"os"

	"github.com/streamcore/streamcore/cmd/streamcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
