// tutorctl is a terminal client for the whiteboard tutor.
package main

import (
	"os"

	"github.com/ashureev/whiteboard-tutor/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
