package main

import (
	"os"

	"github.com/mrsingh-rishi/voice-analysis/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
