package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/acme-dns-sidecar/internal/acmedb"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the acme-dns database is ready",
	Long: `Check runs the readiness probe once: the database file must exist and
contain the acme-dns tables. It exits non-zero if the database is not ready.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database := acmedb.New(cfg.Database.Connection, cfg.Sidecar.Database.BusyTimeout.Std())
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	gate := acmedb.NewGate(database.Path(), database, 0, logger)

	return reportCheck(cmd.OutOrStdout(), database.Path(), gate.Check(context.Background()))
}

func reportCheck(w io.Writer, path string, err error) error {
	var notReady *acmedb.NotReadyError
	switch {
	case err == nil:
		fmt.Fprintf(w, "Database is ready: %s\n", path)
		return nil
	case errors.As(err, &notReady) && notReady.MissingFile:
		fmt.Fprintf(w, "Database file does not exist: %s\n", path)
	case errors.As(err, &notReady):
		fmt.Fprintf(w, "Database is missing tables: %s\n", strings.Join(notReady.MissingTables, ", "))
	default:
		fmt.Fprintf(w, "Database check failed: %v\n", err)
	}
	return err
}
