// Command intellirouter is the process entry point (spec §6), adapting
// the teacher's cmd/llm-router/main.go (flag parsing, logrus setup,
// signal-driven graceful shutdown) to the expanded CLI surface: -host and
// -port flags, a component selector, and the spec's exit code
// contract (0 normal, 2 usage error, 70 startup/internal error).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/chain"
	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/metrics"
	"github.com/intellirouter/intellirouter/internal/middleware"
	"github.com/intellirouter/intellirouter/internal/proxy"
)

const (
	exitOK         = 0
	exitUsageError = 2
	exitStartupErr = 70
)

var validComponents = map[string]bool{"proxy": true, "chains": true, "metrics": true}

func main() {
	var (
		host          = flag.String("host", "", "host shown in the startup log; the server listens on all interfaces at the configured port")
		port          = flag.String("port", "", "bind port (overrides configured server port)")
		configPath    = flag.String("config", "", "path to YAML configuration file")
		componentsArg = flag.String("components", "proxy,chains,metrics", "comma-separated components to activate: proxy,chains,metrics")
		showHelp      = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(exitOK)
	}

	components, err := parseComponents(*componentsArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -components: %v\n", err)
		printUsage()
		os.Exit(exitUsageError)
	}

	if err := run(*host, *port, *configPath, components); err != nil {
		fmt.Fprintf(os.Stderr, "intellirouter: %v\n", err)
		os.Exit(exitStartupErr)
	}
	os.Exit(exitOK)
}

func parseComponents(arg string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, c := range strings.Split(arg, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !validComponents[c] {
			return nil, fmt.Errorf("unknown component %q (valid: proxy, chains, metrics)", c)
		}
		out[c] = true
	}
	if !out["proxy"] {
		return nil, fmt.Errorf("the proxy component is required")
	}
	return out, nil
}

func run(host, port, configPath string, components map[string]bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if port != "" {
		cfg.Server.Port = port
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	reg, engine, err := config.BuildEngine(cfg, logger)
	if err != nil {
		return fmt.Errorf("building model registry: %w", err)
	}

	var executor *chain.Executor
	if components["chains"] {
		executor = chain.New(engine, logger)
	}

	var m *metrics.Metrics
	if components["metrics"] {
		m = metrics.New()
	}

	secMW, err := middleware.NewSecurityMiddleware(cfg.ToSecurityMiddlewareConfig(), logger)
	if err != nil {
		return fmt.Errorf("building security middleware: %w", err)
	}

	valMW, err := middleware.NewValidationMiddleware(&middleware.ValidationConfig{
		Enabled:  cfg.Security.RequestValidation.OpenAPISpecPath != "",
		SpecPath: cfg.Security.RequestValidation.OpenAPISpecPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("building OpenAPI validation middleware: %w", err)
	}

	srv := proxy.New(
		proxy.Config{
			Port:           cfg.Server.Port,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
		reg, engine, executor, m, logger, secMW, valMW,
	)

	bindDesc := cfg.Server.Port
	if host != "" {
		bindDesc = host + ":" + cfg.Server.Port
	}
	logger.WithField("address", bindDesc).Info("starting IntelliRouter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("graceful shutdown completed")
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY               OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY            Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  INTELLIROUTER_PORT           Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  INTELLIROUTER_LOG_LEVEL      Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  INTELLIROUTER_LOG_FORMAT     Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  INTELLIROUTER_DEFAULT_STRATEGY  Default routing strategy\n")
}
