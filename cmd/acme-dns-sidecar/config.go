package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/foxzi/acme-dns-sidecar/internal/config"
)

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Configuration is valid\n")
	fmt.Fprintf(w, "  Database: %s (%s)\n", cfg.Database.Connection, cfg.Database.Engine)
	fmt.Fprintf(w, "  Field selector: %s\n", orNone(cfg.Sidecar.Secrets.FieldSelector))
	fmt.Fprintf(w, "  Label selector: %s\n", orNone(cfg.Sidecar.Secrets.LabelSelector))
	fmt.Fprintf(w, "  Busy timeout: %s\n", cfg.Sidecar.Database.BusyTimeout.Std())

	if cfg.Sidecar.Metrics.Enabled {
		fmt.Fprintf(w, "  Metrics: %s%s\n", cfg.Sidecar.Metrics.ListenAddr, cfg.Sidecar.Metrics.Path)
		if len(cfg.Sidecar.Metrics.AllowedIPs) > 0 {
			fmt.Fprintf(w, "  Metrics allowed IPs: %s\n", strings.Join(cfg.Sidecar.Metrics.AllowedIPs, ", "))
		}
	} else {
		fmt.Fprintf(w, "  Metrics: disabled\n")
	}

	if cfg.JournalEnabled() {
		fmt.Fprintf(w, "  Journal: %s (max %d entries)\n", cfg.Sidecar.Journal.Path, cfg.Sidecar.Journal.MaxEntries)
	} else {
		fmt.Fprintf(w, "  Journal: disabled\n")
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
