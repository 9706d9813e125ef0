// Command republish triggers a single batch run from the command line. It
// goes through the same engine and execution lock as the scheduled and
// external triggers, so a concurrent batch makes it exit with "already
// running".
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/evergreenpress/republisher/internal/app"
	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/logger"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const runTimeout = 15 * time.Minute

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	preview := flag.Bool("preview", false, "compute selection and timestamps without writing anything")
	force := flag.Bool("force", false, "bypass the already-republished-today check (debug mode only)")
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
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var result *domain.BatchResult
	if *preview {
		result, err = application.Engine().Preview(ctx)
	} else {
		result, err = application.Engine().ExecuteBatch(ctx, domain.TriggerManual, *force)
	}

	if errors.Is(err, domain.ErrAlreadyRunning) {
		fmt.Fprintln(os.Stderr, "A batch is already running; try again later.")
		os.Exit(2)
	}
	if err != nil {
		application.Logger().Error("batch failed", logger.Error(err))
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if !result.Success {
		os.Exit(1)
	}
}
