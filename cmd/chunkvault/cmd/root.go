package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/chunkvault/internal/audit"
	"github.com/kenneth/chunkvault/internal/config"
	"github.com/kenneth/chunkvault/internal/metrics"
	"github.com/kenneth/chunkvault/internal/pipeline"
	"github.com/kenneth/chunkvault/internal/storage"
	"github.com/kenneth/chunkvault/internal/tracing"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootOptions carries the persistent flags.
type rootOptions struct {
	configPath   string
	logLevel     string
	backend      string
	printMetrics bool
}

// app holds everything a subcommand needs to run a session.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	backend storage.Backend
	metrics *metrics.Metrics
	audit   audit.Logger

	closers []func(context.Context) error
}

// NewRootCmd builds the chunkvault command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "chunkvault.yaml"
	}

	rootCmd := &cobra.Command{
		Use:   "chunkvault",
		Short: "Chunked authenticated encryption for files",
		Long: `chunkvault splits a file into fixed-size chunks, encrypts every chunk
under a fresh session key and stores the chunks together with a keystore
document on the local filesystem, an embedded bolt database or S3.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "storage backend (local, s3, bolt)")
	rootCmd.PersistentFlags().BoolVar(&opts.printMetrics, "print-metrics", false, "print collected metrics to stdout on exit")

	rootCmd.AddCommand(newEncryptCmd(opts))
	rootCmd.AddCommand(newDecryptCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newClearCmd(opts))

	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger := logrus.New()
		logger.SetOutput(os.Stderr)
		fields := logrus.Fields{}
		if kind := vaulterr.KindOf(err); kind != "" {
			fields["kind"] = kind
		}
		logger.WithFields(fields).WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// withApp builds the application from configuration, runs fn and releases
// every resource afterwards, also when fn fails.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.setup(ctx, cmd)
	if err != nil {
		return err
	}
	if o.printMetrics {
		out := cmd.OutOrStdout()
		a.closers = append(a.closers, func(context.Context) error {
			return a.metrics.WriteText(out)
		})
	}
	defer func() {
		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				a.logger.WithError(cerr).Warn("Failed to release resources")
			}
		}
	}()
	return fn(ctx, a)
}

func (o *rootOptions) setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindConfig, "load config", o.configPath, err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.backend != "" {
		cfg.Backend.Type = o.backend
	}
	if o.printMetrics {
		cfg.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, vaulterr.New(vaulterr.KindConfig, "validate config", o.configPath, err)
	}

	return newApp(ctx, cfg, cmd.ErrOrStderr())
}

// newApp wires logging, metrics, audit, tracing and the storage backend.
func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (_ *app, err error) {
	logger := newLogger(cfg, stderr)
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	shutdown, err := tracing.Setup(ctx, cfg.Tracing, stderr)
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindConfig, "setup tracing", cfg.Tracing.Exporter, err)
	}
	a.closers = append(a.closers, shutdown)

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewMetrics()
		if cfg.Metrics.Textfile != "" {
			path := cfg.Metrics.Textfile
			a.closers = append(a.closers, func(context.Context) error {
				return a.metrics.WriteTextfile(path)
			})
		}
	}

	if cfg.Audit.Enabled {
		var writer audit.EventWriter
		if cfg.Audit.Path != "" {
			fw, err := audit.NewFileWriter(cfg.Audit.Path)
			if err != nil {
				return nil, vaulterr.IO("open audit log", cfg.Audit.Path, err)
			}
			a.closers = append(a.closers, func(context.Context) error { return fw.Close() })
			writer = fw
		}
		a.audit = audit.NewLogger(cfg.Audit.MaxEvents, writer)
		logger.WithFields(logrus.Fields{
			"max_events": cfg.Audit.MaxEvents,
			"path":       cfg.Audit.Path,
		}).Debug("Audit logging enabled")
	}

	backend, closeBackend, err := storage.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeBackend() })

	// A nil *metrics.Metrics must not become a non-nil storage.Recorder.
	if a.metrics != nil {
		backend = storage.Instrument(backend, cfg.Backend.Type, a.metrics)
	}
	a.backend = backend

	logger.WithFields(logrus.Fields{
		"version": version,
		"backend": cfg.Backend.Type,
	}).Debug("chunkvault initialized")

	return a, nil
}

func newLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// pipelineOptions returns the options shared by encryptors and decryptors.
func (a *app) pipelineOptions() []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithConcurrency(pipeline.PolicyFromConfig(a.cfg.Concurrency)),
		pipeline.WithAlgorithm(a.cfg.Encryption.Algorithm),
		pipeline.WithNoncePolicy(a.cfg.Encryption.NoncePolicy),
	}
	if a.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(a.metrics))
	}
	if a.audit != nil {
		opts = append(opts, pipeline.WithAuditLogger(a.audit))
	}
	return opts
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
