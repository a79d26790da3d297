package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/enactprotocol/enact-go/internal/adapters/command"
	"github.com/enactprotocol/enact-go/internal/adapters/logging"
	"github.com/enactprotocol/enact-go/internal/config"
	"github.com/enactprotocol/enact-go/internal/domain/audit"
	"github.com/enactprotocol/enact-go/internal/domain/core"
	"github.com/enactprotocol/enact-go/internal/domain/envres"
	"github.com/enactprotocol/enact-go/internal/domain/execution"
	"github.com/enactprotocol/enact-go/internal/domain/gate"
	"github.com/enactprotocol/enact-go/internal/domain/safety"
	"github.com/enactprotocol/enact-go/internal/domain/trust"
	"github.com/enactprotocol/enact-go/internal/ports"
)

// app bundles everything a command needs, built once per invocation.
type app struct {
	cfg      config.Config
	logger   ports.Logger
	store    *trust.Store
	auditLog *audit.FileLogger
	auditSvc *audit.Service
	verifier *trust.Verifier
	policy   trust.Policy
	api      *core.API
}

// loadConfig resolves the config file path and loads it.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// newLogger builds the CLI logger from config and global flags.
func newLogger(cfg config.Config) ports.Logger {
	level := ports.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = ports.LevelDebug
	case "warn":
		level = ports.LevelWarn
	case "error":
		level = ports.LevelError
	}
	if verbose {
		level = ports.LevelDebug
	}
	return logging.NewConsoleLogger(
		logging.WithOutput(os.Stderr),
		logging.WithLevel(level),
		logging.WithJSONFormat(jsonOut || cfg.Log.Format == "json"),
	)
}

// buildApp wires the full pipeline: trust store, audit trail, gate,
// providers, and the orchestrator.
func buildApp(policyName, providerName string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	if err := os.MkdirAll(cfg.TrustDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating trust directory: %w", err)
	}
	store := trust.NewStore(cfg.TrustDir)

	auditLog, err := audit.NewFileLogger(audit.FileLoggerConfig{Dir: cfg.AuditDir})
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	auditSvc := audit.NewService(auditLog)

	if policyName == "" {
		policyName = cfg.Policy
	}
	policy, err := trust.PolicyFromString(policyName)
	if err != nil {
		return nil, err
	}
	verifier := trust.NewVerifier(store)
	enforcer := gate.NewEnforcer(verifier, auditSvc, logger, policy)

	provider, err := buildProvider(cfg, providerName, logger)
	if err != nil {
		return nil, err
	}

	layers := envLayers(cfg)
	c := core.New(safety.NewScanner(), envres.NewResolver(layers...), enforcer, auditSvc, provider, logger)
	api := core.NewAPI(c, core.NewDirectorySource(cfg.ToolsDir), verifier, policy)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		auditLog: auditLog,
		auditSvc: auditSvc,
		verifier: verifier,
		policy:   policy,
		api:      api,
	}, nil
}

func buildProvider(cfg config.Config, name string, logger ports.Logger) (execution.Provider, error) {
	if name == "" {
		name = cfg.Provider
	}
	runner := command.NewRealRunner()
	switch name {
	case execution.EnvironmentDirect:
		return execution.NewDirectProvider(runner, logger), nil
	case execution.EnvironmentSandbox:
		return execution.NewSandboxProvider(runner, logger, execution.SandboxConfig{
			Engine:       cfg.Sandbox.Engine,
			DefaultImage: cfg.Sandbox.Image,
			Memory:       cfg.Sandbox.Memory,
			CPUs:         cfg.Sandbox.CPUs,
			AllowNetwork: cfg.Sandbox.AllowNetwork,
			Retry:        execution.DefaultRetryConfig(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q, expected direct or sandbox", name)
	}
}

// envLayers builds the environment layer stack, lowest precedence
// first: user env file, then any configured files, then the project
// env file. The process environment sits on top of all of them.
func envLayers(cfg config.Config) []envres.Layer {
	var layers []envres.Layer
	if home, err := os.UserHomeDir(); err == nil {
		layers = append(layers, envres.Layer{Name: "user", Path: filepath.Join(home, ".enact", "env.yaml")})
	}
	for _, p := range cfg.EnvFiles {
		layers = append(layers, envres.Layer{Name: "config", Path: p})
	}
	layers = append(layers, envres.Layer{Name: "project", Path: filepath.Join(".enact", "env.yaml")})
	return layers
}

func (a *app) close() {
	_ = a.auditLog.Close()
}
