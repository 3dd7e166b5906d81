package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/channelgw/internal/config"
	"github.com/mattjoyce/channelgw/internal/doctor"
	"github.com/mattjoyce/channelgw/internal/tui/tokenmgr"
)

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	var result *doctor.Result
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		result = &doctor.Result{Errors: []doctor.Issue{{Category: "load", Message: err.Error()}}}
	} else {
		result = doctor.New(cfg).Validate()
	}

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	if configPath == "" {
		discovered, err := discoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	reports, err := config.Lock(configPath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if isVerbose {
		for _, report := range reports {
			fmt.Printf("Processing directory: %s\n", report.ConfigDir)
			for _, file := range report.Files {
				if file.Exists {
					fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
					continue
				}
				fmt.Printf("  SKIP %s: not found\n", file.Filename)
			}
			if dryRun {
				fmt.Printf("  DRY-RUN %s (not written)\n", report.ChecksumPath)
			} else {
				fmt.Printf("  WROTE %s\n", report.ChecksumPath)
			}
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(reports))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(reports))
	}
	for _, report := range reports {
		fmt.Printf("  - %s\n", report.ConfigDir)
	}
	return 0
}

// pickScopes is swapped in tests to avoid the interactive picker.
var pickScopes = tokenmgr.Run

func runConfigToken(args []string) int {
	var scopesArg, name string

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.StringVar(&scopesArg, "scopes", "", "Comma-separated scopes (skips the picker)")
	fs.StringVar(&name, "name", "api", "Token name, used for the environment variable")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	scopes := parseCSVScopes(scopesArg)
	if len(scopes) == 0 {
		picked, ok, err := pickScopes(tokenmgr.Scopes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return 1
		}
		scopes = picked
	}
	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no scopes selected")
		return 1
	}
	for _, s := range scopes {
		if !knownScope(s) {
			fmt.Fprintf(os.Stderr, "Error: unknown scope %q\n", s)
			return 1
		}
	}

	tokenKey, err := generateSecureToken(32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		return 1
	}
	envVar := tokenEnvVarName(name)

	entry, err := yaml.Marshal([]config.APIToken{{Token: fmt.Sprintf("${%s}", envVar), Scopes: scopes}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode token entry: %v\n", err)
		return 1
	}

	fmt.Printf("Token key: %s\n\n", tokenKey)
	fmt.Printf("Set environment variable:\n  export %s=\"%s\"\n\n", envVar, tokenKey)
	fmt.Println("Add to api.auth.tokens (or rooms.tokens):")
	fmt.Print(string(entry))
	return 0
}

func knownScope(scope string) bool {
	for _, s := range tokenmgr.Scopes {
		if s.Name == scope {
			return true
		}
	}
	return false
}

func parseCSVScopes(in string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(in, ",") {
		s := strings.TrimSpace(part)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func tokenEnvVarName(name string) string {
	var b strings.Builder
	for _, ch := range strings.ToUpper(name) {
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}
	result := strings.Trim(b.String(), "_")
	if result == "" {
		return "CHANNELGW_TOKEN"
	}
	if !strings.HasPrefix(result, "CHANNELGW_") {
		result = "CHANNELGW_" + result
	}
	if !strings.HasSuffix(result, "_TOKEN") {
		result += "_TOKEN"
	}
	return result
}

func generateSecureToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
