package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/brand"
	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/edge"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
	"github.com/zeventbooks/eventangle-edge/internal/router"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/edge.yaml", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	aliasFile := flag.String("alias-drift", "", "Compare the alias table with a JSON alias map and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("EventAngle edge %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Secrets such as ADMIN_KEY_<BRAND> may come from a local .env file.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	if *aliasFile != "" {
		drifted, err := aliasDrift(cfg, *aliasFile, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Alias drift check failed: %v\n", err)
			os.Exit(2)
		}
		if drifted {
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.Rotation.MaxSize,
		MaxBackups: cfg.Logging.Rotation.MaxBackups,
		MaxAgeDays: cfg.Logging.Rotation.MaxAge,
		Compress:   cfg.Logging.Rotation.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting EventAngle edge",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("listen", cfg.Listen),
		zap.String("backend_mode", cfg.Backends.Mode),
		zap.Int("brands", len(cfg.Brands.List)),
	)

	server, err := edge.NewServer(cfg, *configPath, edge.Options{Logger: logger})
	if err != nil {
		logging.Error("Failed to create edge", zap.Error(err))
		os.Exit(1)
	}

	if err := server.Run(context.Background()); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

// aliasDrift compares the alias table against the alias map in path and
// writes the drift report to out. The file is either a flat alias to page
// object or an object holding one under "aliases".
func aliasDrift(cfg *config.Config, path string, out io.Writer) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if !gjson.ValidBytes(data) {
		return false, fmt.Errorf("%s is not valid JSON", path)
	}
	doc := gjson.ParseBytes(data)
	if nested := doc.Get("aliases"); nested.IsObject() {
		doc = nested
	}
	if !doc.IsObject() {
		return false, fmt.Errorf("%s: expected an object of alias to page", path)
	}

	theirs := make(map[string]string)
	var bad error
	doc.ForEach(func(k, v gjson.Result) bool {
		if v.Type != gjson.String {
			bad = fmt.Errorf("%s: alias %q maps to a non-string value", path, k.String())
			return false
		}
		theirs[k.String()] = v.String()
		return true
	})
	if bad != nil {
		return false, bad
	}

	brands, err := brand.NewRegistry(cfg.Brands)
	if err != nil {
		return false, err
	}
	table, err := router.NewTable(router.DefaultPages, brands.IDs())
	if err != nil {
		return false, err
	}

	drift := table.CompareAliases(theirs)
	if drift.Empty() {
		fmt.Fprintf(out, "Alias tables agree (%d aliases)\n", len(theirs))
		return false, nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(drift); err != nil {
		return true, err
	}
	return true, nil
}
