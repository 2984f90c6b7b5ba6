// Package main provides a CLI tool for one-shot entity analysis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"chainsentry/internal/analyzer"
	"chainsentry/internal/config"
	"chainsentry/internal/detect/anomaly"
	"chainsentry/internal/detect/classifier"
	"chainsentry/internal/detect/intel"
	"chainsentry/internal/fetcher"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/model"
	"chainsentry/internal/schema"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "tx":
		runTxCmd(os.Args[2:])
	case "contract":
		runContractCmd(os.Args[2:])
	case "url":
		runURLCmd(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("sentry-analyze %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: sentry-analyze <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  tx        Analyze a transaction by hash or from a JSON file\n")
	fmt.Fprintf(os.Stderr, "  contract  Analyze a contract address, optionally with local source\n")
	fmt.Fprintf(os.Stderr, "  url       Analyze a URL, optionally with fetched page content\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runTxCmd(args []string) {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	hash := fs.String("hash", "", "Transaction hash to fetch and analyze")
	file := fs.String("file", "", "Path to a transaction JSON file (- for stdin)")
	fs.Parse(args)

	if *hash == "" && *file == "" {
		fmt.Fprintf(os.Stderr, "Error: -hash or -file is required\n")
		os.Exit(1)
	}

	req := &schema.DetectRequest{Type: schema.EntityTransaction, Hash: *hash}
	if *file != "" {
		data := readInput(*file)
		var tx schema.Transaction
		if err := json.Unmarshal(data, &tx); err != nil {
			fatal("parse transaction: %v", err)
		}
		req.Data = &tx
	}

	detect(req)
}

func runContractCmd(args []string) {
	fs := flag.NewFlagSet("contract", flag.ExitOnError)
	address := fs.String("address", "", "Contract address")
	source := fs.String("source", "", "Path to contract source code (- for stdin)")
	fs.Parse(args)

	if *address == "" {
		fmt.Fprintf(os.Stderr, "Error: -address is required\n")
		os.Exit(1)
	}

	req := &schema.DetectRequest{Type: schema.EntityContract, Address: *address}
	if *source != "" {
		req.SourceCode = string(readInput(*source))
	}

	detect(req)
}

func runURLCmd(args []string) {
	fs := flag.NewFlagSet("url", flag.ExitOnError)
	content := fs.String("content", "", "Path to fetched page content (- for stdin)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: sentry-analyze url [-content <file>] <url>\n")
		os.Exit(1)
	}

	req := &schema.DetectRequest{Type: schema.EntityURL, URL: fs.Arg(0)}
	if *content != "" {
		req.Content = string(readInput(*content))
	}

	detect(req)
}

// detect builds a one-shot service from the config and prints the verdict.
func detect(req *schema.DetectRequest) {
	// Keep stderr quiet unless something is actually wrong; the verdict
	// JSON on stdout is the output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	anomalyDet, cls, closeModels, err := newDetectors(cfg)
	if err != nil {
		fatal("model bundle: %v", err)
	}
	defer closeModels()

	store := knownbad.NewStore()
	if len(cfg.KnownBad.Refresher.FeedURLs) > 0 {
		refresher := knownbad.NewRefresher(store, cfg.KnownBad.Refresher, nil)
		if err := refresher.Refresh(ctx); err != nil {
			slog.Warn("knownbad refresh failed", "error", err)
		}
	}

	var lookup *intel.Lookup
	if sources := cfg.Intel.Sources(); len(sources) > 0 {
		lookup = intel.NewLookup(cfg.Intel.Lookup, sources...)
	}

	var explorer analyzer.Fetcher
	if cfg.Fetcher.Enabled {
		client, err := fetcher.NewClient(cfg.Fetcher)
		if err != nil {
			fatal("fetcher init: %v", err)
		}
		explorer = client
	}

	service := analyzer.NewService(logger, store, anomalyDet, cls, lookup, explorer)

	res, err := service.Detect(ctx, req)
	if err != nil {
		fatal("%v", err)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fatal("encode verdict: %v", err)
	}
	fmt.Println(string(out))
}

// newDetectors loads the model bundle under the configured policy. A
// version mismatch is always fatal and a load failure is fatal when
// models are required; anything else degrades to nil-model detectors.
func newDetectors(cfg *config.Config) (*anomaly.Detector, *classifier.Classifier, func(), error) {
	bundle, err := model.Load(cfg.Models.Dir)
	switch {
	case err == nil:
		return anomaly.New(bundle.Anomaly, bundle.Scaler),
			classifier.New(bundle.Classifier, bundle.Scaler, bundle.Labels),
			bundle.Close, nil
	case errors.Is(err, model.ErrVersionMismatch):
		return nil, nil, nil, err
	case cfg.Models.Required:
		return nil, nil, nil, err
	default:
		slog.Warn("running without ML models", "error", err)
		return anomaly.New(nil, nil), classifier.New(nil, nil, nil), func() {}, nil
	}
}

func readInput(path string) []byte {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal("read stdin: %v", err)
		}
		return data
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fatal("read %s: %v", path, err)
	}
	return data
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
