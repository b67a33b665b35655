package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/wearpkg/internal/config"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprint(w, `Config Commands:
  config check [--config PATH] [--json]     Validate configuration and integrity
  config lock  [--config PATH] [--dry-run]  Record the config file hash in .checksums
`)
}

// checkResult is the machine-readable output of config check.
type checkResult struct {
	Valid  bool   `json:"valid"`
	Config string `json:"config"`
	Error  string `json:"error,omitempty"`
}

func runConfigCheck(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	result := checkResult{Valid: true, Config: path}
	cfg, err := config.Load(path)
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
	} else {
		result.Config = cfg.SourcePath
	}

	if jsonOut {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
	} else if result.Valid {
		fmt.Printf("Configuration valid: %s\n", result.Config)
	} else {
		fmt.Printf("Configuration invalid: %s\n  %s\n", result.Config, result.Error)
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&dryRun, "dry-run", false, "Compute the hash without writing .checksums")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	report, err := config.Lock(path, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	fmt.Printf("HASH %s: %s\n", report.ConfigPath, report.Hash)
	if report.Written {
		fmt.Printf("Wrote %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("Dry run: %s not written\n", report.ChecksumPath)
	}
	return 0
}
