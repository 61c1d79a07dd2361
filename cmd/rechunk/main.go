// Command rechunk reads a byte stream from stdin and writes it back out as
// frames of exactly -size bytes. A trailing partial frame is dropped.
//
// Usage:
//
//	rechunk -size 188 < capture.ts > frames.bin
//	rechunk -size 16 -format hex < blob
//	rechunk -config rechunk.yaml -rate 50
//
// Settings are applied in order: defaults, the -config YAML file, then flags
// given on the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/jacoelho/pond"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "rechunk: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	pond.Config `yaml:",inline"`

	Size     int     `yaml:"size"`
	Format   string  `yaml:"format"`
	ReadSize int     `yaml:"read_size"`
	Rate     float64 `yaml:"rate"`
}

func defaultConfig() config {
	return config{
		Config: pond.DefaultConfig(),
		Format: formatRaw,
	}
}

func (c config) validate() error {
	var errs []error
	if err := c.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Size <= 0 {
		errs = append(errs, fmt.Errorf("size must be positive, got %d", c.Size))
	}
	if err := validFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Format != formatRaw && c.Mode == pond.ModeBytes.String() {
		errs = append(errs, fmt.Errorf("format %s needs mode object", c.Format))
	}
	if c.ReadSize < 0 {
		errs = append(errs, fmt.Errorf("read_size must not be negative, got %d", c.ReadSize))
	}
	if c.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate must not be negative, got %v", c.Rate))
	}
	return errors.Join(errs...)
}

func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("rechunk", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to YAML config file")
	size := fs.Int("size", 0, "Frame size in bytes")
	format := fs.String("format", formatRaw, "Frame format: raw, hex or len")
	mode := fs.String("mode", "", "Stage output mode: object or bytes")
	readSize := fs.Int("read-size", 0, "Pull stdin in reads of this many bytes (0 reads it directly)")
	perSecond := fs.Float64("rate", 0, "Maximum frames per second (0 is unlimited)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "Log format: json or console")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := defaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "size":
			cfg.Size = *size
		case "format":
			cfg.Format = *format
		case "mode":
			cfg.Mode = *mode
		case "read-size":
			cfg.ReadSize = *readSize
		case "rate":
			cfg.Rate = *perSecond
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, stderr)
	defer logger.Sync()

	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	opts = append(opts,
		pond.WithLogger(logger),
		pond.WithMetrics(pond.NewMetrics("rechunk", reg)),
	)

	stage := pond.NewTransform(pond.FixedSize(cfg.Size), opts...)

	var src io.Reader = stdin
	if cfg.ReadSize > 0 {
		rs := pond.NewReaderSource(stdin, cfg.ReadSize)
		defer rs.Close()
		ar := pond.NewAsyncReader(rs, pond.WithLogger(logger))
		defer ar.Off()
		src = ar.Reader(ctx, cfg.ReadSize)
	}

	out := newFrameWriter(ctx, stdout, cfg.Format, cfg.Rate)
	logger.Info("rechunk started",
		zap.String("stage", stage.ID()),
		zap.Int("size", cfg.Size),
		zap.String("format", cfg.Format),
		zap.String("mode", cfg.Mode))

	err = pond.Pipeline(ctx, src, stage, out)
	logSummary(logger, reg, out.frames)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

func logSummary(logger *zap.Logger, reg *prometheus.Registry, frames int) {
	fields := []zap.Field{zap.Int("frames", frames)}

	families, err := reg.Gather()
	if err != nil {
		logger.Warn("gather metrics", zap.Error(err))
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fields = append(fields, zap.Float64(mf.GetName(), m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				fields = append(fields, zap.Float64(mf.GetName(), m.GetGauge().GetValue()))
			}
		}
	}
	logger.Info("rechunk finished", fields...)
}

func newLogger(cfg pond.LogConfig, w io.Writer) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}
