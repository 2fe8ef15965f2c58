// Command cli converts a single image through the conversion gateway and saves the result
// next to the input, or wherever --output points.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/imalyk/go-file-converter/pkg/client"
	"github.com/imalyk/go-file-converter/pkg/config"
	"github.com/imalyk/go-file-converter/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flag name -> config key
var flagKeys = map[string]string{
	"server":    "client.server",
	"format":    "client.format",
	"output":    "client.output",
	"attempts":  "client.attempts",
	"interval":  "client.interval",
	"log-level": "log.level",
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("cli", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("server", "", "conversion gateway base URL (default http://localhost:3002)")
	fs.StringP("format", "f", "", "output format (default jpg)")
	fs.StringP("output", "o", "", "output file or directory (default <name>_converted.<format> next to the input)")
	fs.Int("attempts", 0, "maximum number of status checks (default 30)")
	fs.Duration("interval", 0, "delay between status checks (default 5s)")
	fs.String("log-level", "", "debug, info, warn or error")
	configFile := fs.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: cli [flags] <input>\n\nflags:\n%s", fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	input := fs.Arg(0)

	v := config.New()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(stderr, "bind flag %s: %v\n", name, err)
			return 1
		}
	}
	cfg, err := config.Load(v, *configFile)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}

	logger := logging.New(stderr, cfg.Log.Level)

	api := client.New(cfg.Client.Server, client.WithTimeouts(
		cfg.Client.UploadTimeout,
		cfg.Client.StatusTimeout,
		cfg.Client.DownloadTimeout,
	))
	conv := client.NewConverter(api, cfg.Client.Attempts, cfg.Client.Interval, logger)

	res, err := conv.Convert(ctx, client.Request{
		Input:  input,
		Format: cfg.Client.Format,
		Output: cfg.Client.Output,
	})
	if err != nil {
		logger.Error("conversion failed", "input", input, "error", err)
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "converted %s -> %s\n", input, res.Output)
	fmt.Fprintf(stdout, "size: %s -> %s (%.1f%% smaller)\n",
		humanize.Bytes(uint64(res.InputSize)), humanize.Bytes(uint64(res.OutputSize)), res.Ratio())
	return 0
}
