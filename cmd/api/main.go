package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/evergreenpress/republisher/internal/app"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		*configPath = envPath
	}

	application, err := app.New(app.Options{
		ConfigPath: *configPath,
		Version:    Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		os.Exit(1)
	}
}
