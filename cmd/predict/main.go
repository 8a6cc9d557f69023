package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/Brownie44l1/xray-api/internal/batch"
	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	configPath  = flag.String("config", "", "path to YAML config file")
	modelDir    = flag.String("models", "", "model directory (overrides config)")
	variant     = flag.String("variant", "", "binary-cnn or imagenet-heuristic (overrides config)")
	backend     = flag.String("backend", "", "native or onnx (overrides config)")
	output      = flag.String("output", "text", "output format: text, json or yaml")
	concurrency = flag.Int("concurrency", 0, "images classified in parallel (0 = GOMAXPROCS)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	override(&cfg.Model.Dir, *modelDir)
	override(&cfg.Model.Variant, *variant)
	override(&cfg.Model.Backend, *backend)
	if err := cfg.Validate(); err != nil {
		logrus.Fatal(err)
	}

	// Logs go to stderr so stdout stays parseable.
	log := cfg.Log.NewLogger()
	log.SetOutput(os.Stderr)

	classifier, err := model.New(cfg.Model.ToModelConfig(log))
	if err != nil {
		log.Fatalf("Failed to initialize classifier: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := batch.Run(ctx, classifier, flag.Args(), *concurrency)
	classifier.Close()
	if err != nil {
		log.WithError(err).Error("Batch interrupted")
	}

	if err := write(results, *output); err != nil {
		log.Fatal(err)
	}
	log.WithFields(logrus.Fields{"summary": batch.Summary(results)}).Info("Done")

	for _, r := range results {
		if r.Prediction == nil {
			os.Exit(1)
		}
	}
}

func override(field *string, value string) {
	if value != "" {
		*field = value
	}
}

func write(results []batch.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(results)
	case "text":
		for _, r := range results {
			if r.Prediction == nil {
				fmt.Printf("%s\terror: %s\n", r.Path, r.Error)
				continue
			}
			fmt.Printf("%s\t%s\t%.2f%%\n", r.Path, r.Prediction.Label, r.Prediction.Confidence)
		}
		return nil
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
