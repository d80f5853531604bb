package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/guardrelay/internal/audit"
	"github.com/memohai/guardrelay/internal/auth"
	"github.com/memohai/guardrelay/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "guardrelay",
		Short:         "Relay chat messages through a safety gate to a generation backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (defaults to $CONFIG_PATH or ./config.toml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the relay, its chat channels and the dashboard",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(resolveConfigPath(configPath))
			},
		},
		newAuditCommand(&configPath),
		newHashPasswordCommand(),
	)
	return root
}

func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return config.DefaultConfigPath
}

func newAuditCommand(configPath *string) *cobra.Command {
	var (
		limit int
		path  string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent audit log entries as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				cfg, err := config.Load(resolveConfigPath(*configPath))
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				path = cfg.Audit.Path
			}
			entries, err := audit.ReadFile(path, limit)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			return writeEntries(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to print (0 prints all)")
	cmd.Flags().StringVar(&path, "file", "", "audit log path (overrides the config)")
	return cmd
}

func writeEntries(w io.Writer, entries []audit.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash usable as dashboard.password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
