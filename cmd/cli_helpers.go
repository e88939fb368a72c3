package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/codelenshq/oracle/internal/config"
	"github.com/codelenshq/oracle/internal/oracle"
	"github.com/codelenshq/oracle/internal/tracing/otelexport"
)

func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("ORACLE_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newService builds the full pipeline from config, wiring the OTLP
// exporter when tracing points at an endpoint.
func newService(ctx context.Context) (*oracle.Service, *config.Config) {
	cfg := loadConfig()

	svc, err := oracle.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.Tracing.Enabled && cfg.Tracing.OTLPEndpoint != "" {
		exp, err := otelexport.New(ctx, otelexport.Config{
			Endpoint: cfg.Tracing.OTLPEndpoint,
			Insecure: true,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: OTLP exporter disabled: %v\n", err)
		} else {
			svc.SetSpanExporter(exp)
		}
	}
	return svc, cfg
}
