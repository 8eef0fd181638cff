package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/internal/plugins"
	"github.com/spf13/cobra"
)

var (
	validateConfigFile string
	validateJSON       bool

	// errInvalidConfig makes the command exit with status 1 after the
	// result has been printed
	errInvalidConfig = errors.New("configuration is invalid")
)

// ValidationResult represents the validation result
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config"`
	Bots     int      `json:"bots"`
	Enabled  int      `json:"enabled_bots"`
	Plugins  int      `json:"plugins"`
	Storage  string   `json:"storage,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate statebot configuration file",
	Long: `Validate the statebot configuration file without starting the service.

This command checks:
  - YAML syntax
  - Command syntax and storage settings
  - Bot types and credentials
  - Plugin names

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := validateConfigFile
		if path == "" {
			path = findConfigFile()
		}
		if path == "" {
			return fmt.Errorf("no configuration file found, specify one with --config or create ./config.yaml")
		}
		return runValidate(cmd.OutOrStdout(), path, validateJSON)
	},
}

// findConfigFile returns the first existing default location
func findConfigFile() string {
	for _, loc := range []string{
		"config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/statebot/config.yaml"),
		"/etc/statebot/config.yaml",
	} {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// runValidate loads path, prints the result and returns errInvalidConfig
// when the configuration cannot be used
func runValidate(w io.Writer, path string, jsonFormat bool) error {
	result := validateFile(path)
	outputValidationResult(w, result, jsonFormat)
	if !result.Valid {
		return errInvalidConfig
	}
	return nil
}

func validateFile(path string) ValidationResult {
	cfg, err := core.LoadConfig(path)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Config: path,
			Errors: []string{err.Error()},
		}
	}

	result := ValidationResult{
		Config:  path,
		Bots:    len(cfg.Bots),
		Plugins: len(plugins.Names()),
		Storage: cfg.Storage.Backend,
	}
	for _, b := range cfg.Bots {
		if b.Enabled {
			result.Enabled++
		}
	}
	result.Errors, result.Warnings = validateConfigDetails(cfg)
	result.Valid = len(result.Errors) == 0
	return result
}

// validateConfigDetails checks what LoadConfig cannot: credentials of
// enabled bots and plugin names
func validateConfigDetails(cfg *core.Config) (errs, warnings []string) {
	ids := make([]string, 0, len(cfg.Bots))
	for id := range cfg.Bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b := cfg.Bots[id]
		if !b.Enabled {
			continue
		}
		switch b.Type {
		case "telegram", "discord":
			if b.Token == "" {
				errs = append(errs, fmt.Sprintf("bot '%s' is enabled but has no token", id))
			}
		case "feishu", "dingtalk":
			if b.AppID == "" || b.AppSecret == "" {
				errs = append(errs, fmt.Sprintf("bot '%s' is enabled but app_id or app_secret is missing", id))
			}
		}
	}

	known := plugins.Names()
	names := make([]string, 0, len(cfg.Plugins))
	for name := range cfg.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !slices.Contains(known, name) {
			warnings = append(warnings, fmt.Sprintf("plugins.%s does not match a bundled plugin", name))
		}
	}

	if !cfg.HookServer.Enabled {
		warnings = append(warnings, "hook server is disabled - /metrics and /events are not served")
	}
	return errs, warnings
}

func outputValidationResult(w io.Writer, result ValidationResult, jsonFormat bool) {
	if jsonFormat {
		output, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(w, "{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Fprintln(w, string(output))
		return
	}

	if result.Valid {
		fmt.Fprintln(w, "✓ Configuration is valid")
		fmt.Fprintf(w, "  - Config: %s\n", result.Config)
		fmt.Fprintf(w, "  - Bots configured: %d (%d enabled)\n", result.Bots, result.Enabled)
		fmt.Fprintf(w, "  - Plugins: %d\n", result.Plugins)
		fmt.Fprintf(w, "  - Storage: %s\n", result.Storage)
	} else {
		fmt.Fprintln(w, "❌ Configuration validation failed:")
		fmt.Fprintln(w, "\nErrors:")
		for _, errMsg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", errMsg)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\n⚠️  Warnings:")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Configuration file path")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}
