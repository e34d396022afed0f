// Package main provides the tpat command: it replaces selected operators of
// an ONNX model with auto-generated kernel plugins.
//
// Usage:
//
//	tpat -i model.onnx -o model_tpat.onnx -t ReduceMax -p '{"n1":"TPAT_ReduceMax"}'
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
	"os/signal"
	"strings"
	"syscall"

	"github.com/born-ml/tpat/internal/config"
	"github.com/born-ml/tpat/internal/metrics"
	"github.com/born-ml/tpat/internal/pipeline"
	"github.com/born-ml/tpat/onnx"
)

const version = "v0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// listFlag collects repeated or comma-separated values.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

// pluginMapFlag parses a JSON object of node name to plugin name.
type pluginMapFlag map[string]string

func (p *pluginMapFlag) String() string {
	if *p == nil {
		return ""
	}
	data, _ := json.Marshal(map[string]string(*p))
	return string(data)
}

func (p *pluginMapFlag) Set(value string) error {
	m := map[string]string{}
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return fmt.Errorf(`want a JSON object such as {"node": "plugin"}: %w`, err)
	}
	*p = m
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tpat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		nodeNames   listFlag
		nodeTypes   listFlag
		pluginNames pluginMapFlag
	)
	input := fs.String("i", "", "input ONNX model")
	output := fs.String("o", "", "output ONNX model")
	fs.Var(&nodeNames, "n", "node names to replace (repeatable, comma-separated)")
	fs.Var(&nodeTypes, "t", "operator types to replace (repeatable, comma-separated)")
	fs.Var(&pluginNames, "p", `JSON map of node name to plugin name, e.g. {"op_name": "plugin_name"}`)
	configPath := fs.String("config", "", "YAML run file; flags override its values")
	pluginDir := fs.String("plugin-dir", "", "directory receiving generated plugins")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn or error")
	logFormat := fs.String("log-format", "text", "log format: text or json")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics to this file")
	dynamicBatch := fs.Bool("dynamic-batch", false, "build kernels for a symbolic batch dimension")
	minBatch := fs.Int64("min-batch", 1, "minimum batch size with -dynamic-batch")
	optBatch := fs.Int64("opt-batch", 256, "optimal batch size with -dynamic-batch")
	maxBatch := fs.Int64("max-batch", 256, "maximum batch size with -dynamic-batch")
	listOps := fs.Bool("list-native-ops", false, "print the native operators and exit")
	showVersion := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintf(stdout, "tpat %s\n", version)
		return 0
	}
	if *listOps {
		for _, op := range onnx.ListNativeOps() {
			_, _ = fmt.Fprintln(stdout, op)
		}
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "tpat: %v\n", err)
			return 2
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			cfg.Input = *input
		case "o":
			cfg.Output = *output
		case "n":
			cfg.NodeNames = nodeNames
		case "t":
			cfg.NodeTypes = nodeTypes
		case "p":
			cfg.PluginNames = pluginNames
		case "plugin-dir":
			cfg.PluginDir = *pluginDir
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		case "metrics-file":
			cfg.MetricsFile = *metricsFile
		case "dynamic-batch":
			cfg.Batch.DynamicBatch = *dynamicBatch
		case "min-batch":
			cfg.Batch.MinBatch = *minBatch
		case "opt-batch":
			cfg.Batch.OptBatch = *optBatch
		case "max-batch":
			cfg.Batch.MaxBatch = *maxBatch
		}
	})
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "tpat: %v\n", err)
		fs.Usage()
		return 2
	}

	logger := newLogger(stderr, &cfg)
	reg := metrics.NewRegistry()

	res, err := pipeline.Run(ctx, pipeline.Options{
		InputPath:   cfg.Input,
		OutputPath:  cfg.Output,
		NodeNames:   cfg.NodeNames,
		NodeTypes:   cfg.NodeTypes,
		PluginNames: cfg.PluginNames,
		Batch:       cfg.Batch,
		PluginDir:   cfg.PluginDir,
		Metrics:     reg,
		Logger:      logger,
	})
	if cfg.MetricsFile != "" {
		if werr := reg.WriteTextfile(cfg.MetricsFile); werr != nil {
			logger.Warn("metrics not written", slog.Any("error", werr))
		}
	}
	if err != nil {
		logger.Error("onnx2plugin failed", slog.Any("error", err))
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Onnx_name_mapping_trt_plugin: %s\n", res.Mapping)
	_, _ = fmt.Fprintf(stdout, "Plugins: %s\n", strings.Join(res.Plugins, ", "))
	return 0
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
