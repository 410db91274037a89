// dnsfaultctl is the controller for the DNS fault-injection layer. It owns
// the lifecycle of the denylist control file: publishing patterns to
// activate injection, removing the file to deactivate it, and inspecting or
// watching the current state. The interception side (libdnsfault, or
// intercept.Resolver embedded in a Go program) only ever reads the file.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/failpoint-io/dnsfault/internal/fault/common/log"
	"github.com/failpoint-io/dnsfault/internal/fault/config"
	"github.com/failpoint-io/dnsfault/internal/fault/controlfile"
	"github.com/failpoint-io/dnsfault/internal/fault/denylist"
	"github.com/failpoint-io/dnsfault/internal/fault/gateways/upstream"
	"github.com/failpoint-io/dnsfault/internal/fault/repos/answercache"
	"github.com/failpoint-io/dnsfault/internal/fault/services/intercept"
)

// version is set by ldflags at build time.
var version = "dev"

const resolveTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.AppConfig

	root := &cobra.Command{
		Use:           "dnsfaultctl",
		Short:         "Control the DNS fault-injection denylist",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
				return fmt.Errorf("logging configuration error: %w", err)
			}
			return nil
		},
	}

	root.AddCommand(
		newActivateCmd(),
		newDeactivateCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newCheckCmd(),
		newResolveCmd(&cfg),
	)
	return root
}

func newActivateCmd() *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "activate [pattern ...]",
		Short: "Publish deny patterns, activating the denylist",
		Long: "Publish deny patterns to the control file via atomic replace.\n" +
			"Each pattern is a POSIX extended regular expression matched\n" +
			"unanchored against hostnames: \"evil\" denies notevilatall.com.\n" +
			"Anchor with ^ and $ for exact matches.",
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns := args
			if fromFile != "" {
				fromDisk, err := readPatternFile(fromFile)
				if err != nil {
					return err
				}
				patterns = append(patterns, fromDisk...)
			}
			if len(patterns) == 0 {
				return fmt.Errorf("no deny patterns given; pass patterns as arguments or via --file")
			}

			w := controlfile.NewWriter(controlfile.WriterOptions{Logger: log.GetLogger()})
			if err := w.Publish(patterns); err != nil {
				return err
			}
			fmt.Printf("denylist active: %d pattern(s) at %s\n", len(patterns), w.Path())
			return nil
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read additional patterns from a file, one per line")
	return cmd
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the control file, deactivating the denylist",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := controlfile.NewWriter(controlfile.WriterOptions{Logger: log.GetLogger()})
			if err := w.Deactivate(); err != nil {
				return err
			}
			fmt.Println("denylist inactive")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the denylist is active",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(formatStatus(controlfile.Probe(controlfile.Path)))
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream denylist activation transitions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := controlfile.NewWatcher(controlfile.Path, func(st controlfile.Status) {
				log.Info(map[string]any{
					"active":   st.Active,
					"patterns": st.Patterns,
				}, "denylist state")
			})
			return w.Run(ctx)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <hostname>",
		Short: "Evaluate a hostname against the current denylist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dec := denylist.New().Decide(args[0])
			if dec.Denied {
				fmt.Printf("denied (pattern %q)\n", dec.Pattern)
				os.Exit(1)
			}
			fmt.Println("allowed")
			return nil
		},
	}
}

// newResolveCmd takes a pointer-to-pointer because cfg is populated by the
// root command's PersistentPreRunE after command construction.
func newResolveCmd(cfg **config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <hostname>",
		Short: "Resolve a hostname through the interception layer",
		Long: "Resolve a hostname through the denylist and the configured\n" +
			"upstream DNS servers, demonstrating injection end to end: a\n" +
			"denied hostname fails exactly like NXDOMAIN.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := buildResolver(*cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), resolveTimeout)
			defer cancel()

			addrs, err := resolver.LookupHost(ctx, args[0])
			if err != nil {
				return err
			}
			for _, a := range addrs {
				fmt.Println(a)
			}
			return nil
		},
	}
}

// buildResolver wires engine → interceptor → upstream delegate, with an
// answer cache on the delegate unless disabled.
func buildResolver(cfg *config.AppConfig) (intercept.HostResolver, error) {
	var cache *answercache.Cache
	if !cfg.DisableCache {
		var err error
		cache, err = answercache.New(int(cfg.CacheSize), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create answer cache: %w", err)
		}
	}

	delegate, err := upstream.NewResolver(upstream.Options{
		Servers: cfg.Servers,
		Cache:   cache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream resolver: %w", err)
	}

	return intercept.New(intercept.Options{
		Decider:  denylist.New(),
		Delegate: delegate,
	}), nil
}

// readPatternFile reads newline-delimited patterns, skipping blank lines.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			patterns = append(patterns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	return patterns, nil
}

// formatStatus renders a Status for the status command.
func formatStatus(st controlfile.Status) string {
	if !st.Active {
		return "inactive"
	}
	return fmt.Sprintf("active: %d pattern(s), modified %s",
		st.Patterns, st.ModTime.Format(time.RFC3339))
}
