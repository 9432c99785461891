// Package main implements the topomirror command-line tool for mirroring
// the US Topo map catalog.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/topomirror/internal/mirror"
)

const (
	defaultConfigPath = "/etc/topomirror/topomirror.toml"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "topomirror",
	Short: "Mirror the US Topo map catalog",
	Long: `topomirror keeps a local mirror of the USGS US Topo GeoPDF catalog.

Every current map listed in the manifest is downloaded, extracted and
verified against the size the manifest declares. Maps that are already
present with the right size are left alone.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the mirror with the manifest",
	Long: `Synchronizes the local mirror with the manifest.

Usage:
  # Synchronize using the configuration file
  topomirror sync

  # Use a custom configuration file
  topomirror sync --config /path/to/topomirror.toml

  # Run without a configuration file
  topomirror sync --manifest ./ustopo_current.csv.gz --dir /srv/ustopo

  # Stop at the first failing map
  topomirror sync --on-failure abort

  # Show per-map progress and transfer statistics
  topomirror sync --verbose --progress

  # Report what would be downloaded
  topomirror sync --dry-run`,
	Args: cobra.NoArgs,
	Run:  runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		printVersion()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file and report any issues.

With --check-manifest the manifest is read as well, and entries that would be
written to the same local path are listed.`,
	Args: cobra.NoArgs,
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	addGlobalFlags(rootCmd)
	addSyncFlags(syncCmd)
	validateCmd.Flags().Bool("check-manifest", false, "also read the manifest and report path collisions")

	rootCmd.Flags().BoolP("version", "v", false, "print version information and exit")
	rootCmd.Run = func(cmd *cobra.Command, _ []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersion()
			return
		}
		_ = cmd.Help()
	}
}

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	flags.StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	flags.Bool("verbose-errors", false, "show detailed error information including stack traces")
	flags.String("manifest", "", "manifest path (overrides config)")
	flags.String("dir", "", "mirror root directory (overrides config)")
}

func addSyncFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("user-agent", "", "User-Agent header sent with downloads")
	flags.Duration("timeout", 0, "per-download timeout (e.g. 10m)")
	flags.String("on-failure", "", "what to do when a map fails: continue or abort")
	flags.BoolP("quiet", "q", false, "suppress all output except for errors")
	flags.BoolP("verbose", "V", false, "log every map and transfer statistics")
	flags.Bool("progress", false, "draw a progress bar for each download")
	flags.Bool("dry-run", false, "report stale maps without downloading")
}

func printVersion() {
	fmt.Printf("topomirror %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err) // Full details with stack trace
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	return err.Error()
}

// knownSectionTypos maps frequently mistyped top-level keys to the right ones.
var knownSectionTypos = map[string]string{
	"logging":    "log",
	"signatures": "signature",
	"directory":  "dir",
	"useragent":  "user_agent",
	"user-agent": "user_agent",
	"on-failure": "on_failure",
}

// analyzeUndecoded examines undecoded TOML keys and provides helpful suggestions
func analyzeUndecoded(undecoded []toml.Key) (suggestions []string, unknown []string) {
	seen := make(map[string]bool)
	for _, key := range undecoded {
		root := key[0]
		if correct, ok := knownSectionTypos[strings.ToLower(root)]; ok {
			if !seen[root] {
				suggestions = append(suggestions, fmt.Sprintf("Key '%s' should be '%s'", root, correct))
				seen[root] = true
			}
			continue
		}
		unknown = append(unknown, key.String())
	}
	return suggestions, unknown
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	suggestions, unknown := analyzeUndecoded(undecoded)

	var errorMsg strings.Builder
	if len(suggestions) > 0 {
		errorMsg.WriteString("configuration contains keys that don't match expected structure:\n")
		for _, suggestion := range suggestions {
			errorMsg.WriteString("  • " + suggestion + "\n")
		}
		errorMsg.WriteString("\nNote: Configuration keys are case-sensitive and must match exactly.")
	}

	if len(unknown) > 0 {
		if errorMsg.Len() > 0 {
			errorMsg.WriteString("\n\nAdditionally, found unknown keys: ")
		} else {
			errorMsg.WriteString("configuration contains unknown keys: ")
		}
		errorMsg.WriteString(fmt.Sprintf("%v", unknown))
	}

	return errorMsg.String()
}

// loadConfig builds the configuration from defaults, the configuration
// file, TOPOMIRROR_* variables and command-line flags, in that order.
//
// A missing file is accepted only when --config was not given.
func loadConfig(cmd *cobra.Command) (*mirror.Config, error) {
	config := mirror.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	switch {
	case os.IsNotExist(err) && !cmd.Flags().Changed("config"):
		slog.Debug("no configuration file, using defaults", "path", configPath)
	case os.IsNotExist(err):
		return nil, errors.Newf("configuration file not found: %s", configPath)
	case err != nil:
		return nil, errors.Wrapf(err, "failed to decode config file %s", configPath)
	default:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, errors.New(formatUndecodedError(undecoded))
		}
	}

	if err := config.ApplyEnvironmentVariables(); err != nil {
		return nil, errors.Wrap(err, "environment")
	}

	if err := applyFlags(cmd, config); err != nil {
		return nil, err
	}

	if err := config.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "log config")
	}
	return config, nil
}

// applyFlags copies explicitly set flags into config.
func applyFlags(cmd *cobra.Command, config *mirror.Config) error {
	flags := cmd.Flags()

	if flags.Changed("manifest") {
		v, _ := flags.GetString("manifest")
		config.Manifest = v
	}
	if flags.Changed("dir") {
		v, _ := flags.GetString("dir")
		abs, err := filepath.Abs(v)
		if err != nil {
			return errors.Wrap(err, "--dir")
		}
		config.Dir = abs
	}
	if flags.Lookup("user-agent") != nil && flags.Changed("user-agent") {
		v, _ := flags.GetString("user-agent")
		config.UserAgent = v
	}
	if flags.Lookup("timeout") != nil && flags.Changed("timeout") {
		v, _ := flags.GetDuration("timeout")
		if v < 0 {
			return errors.New("--timeout must not be negative")
		}
		config.SetTimeout(v)
	}
	if flags.Lookup("on-failure") != nil && flags.Changed("on-failure") {
		v, _ := flags.GetString("on-failure")
		config.OnFailure = v
	}
	if flags.Lookup("progress") != nil && flags.Changed("progress") {
		v, _ := flags.GetBool("progress")
		config.Progress = v
	}

	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if flags.Lookup("verbose") != nil {
		if v, _ := flags.GetBool("verbose"); v {
			config.Log.Level = "debug"
		}
	}
	if flags.Lookup("quiet") != nil {
		if q, _ := flags.GetBool("quiet"); q {
			config.Log.Level = "error"
			config.Progress = false
		}
	}
	return nil
}

func runSync(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		slog.Error("configuration error", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	summary, err := mirror.Run(ctx, config, mirror.RunOptions{DryRun: dryRun})
	if summary != nil && !quiet {
		summary.Print(os.Stdout)
	}
	if err != nil {
		slog.Error("sync failed", "error", formatError(err, verboseErrors), "elapsed", time.Since(start).Round(time.Second))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		stop()
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		slog.Error("configuration error", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	if err := config.Check(); err != nil {
		slog.Error("the configuration is not valid", "error", err)
		os.Exit(1)
	}
	slog.Info("the configuration passes validation checks")

	if check, _ := cmd.Flags().GetBool("check-manifest"); !check {
		return
	}

	report, err := mirror.Inspect(config)
	if err != nil {
		slog.Error("manifest check failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
	report.Print(os.Stdout)
	if len(report.Collisions) > 0 {
		slog.Warn("entries share a local path and will overwrite each other", "collisions", len(report.Collisions))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
