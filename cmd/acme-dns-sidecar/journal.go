package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/acme-dns-sidecar/internal/journal"
)

var (
	journalOutcome string
	journalSecret  string
	journalLimit   int
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recent reconcile outcomes",
	Long: `List recent reconcile outcomes from the journal file. The file is locked
while the sidecar runs; use the /journal endpoint of the metrics server then.`,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVar(&journalOutcome, "outcome", "", "Filter by outcome (registered, rejected, failed)")
	journalCmd.Flags().StringVar(&journalSecret, "secret", "", "Filter by secret name")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 50, "Maximum number of entries to show")

	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.JournalEnabled() {
		return fmt.Errorf("journal is disabled (set sidecar.journal.path)")
	}

	j, err := journal.Open(cfg.Sidecar.Journal.Path, cfg.Sidecar.Journal.MaxEntries)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(context.Background(), journal.ListFilter{
		Outcome: journalOutcome,
		Secret:  journalSecret,
		Limit:   journalLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list journal: %w", err)
	}

	printJournal(cmd.OutOrStdout(), entries)
	return nil
}

func printJournal(out io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Journal is empty")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOUTCOME\tSECRET\tENTRY\tUSERNAME\tSUBDOMAIN\tREASON")
	fmt.Fprintln(w, "----\t-------\t------\t-----\t--------\t---------\t------")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format(time.DateTime),
			e.Outcome,
			e.Secret,
			dash(e.Entry),
			dash(e.Username),
			dash(e.Subdomain),
			dash(e.Reason),
		)
	}
	w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
