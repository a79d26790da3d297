package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/enactprotocol/enact-go/internal/domain/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `Query the append-only audit trail of gate decisions, executions,
and trust store changes.

Examples:
  enact audit
  enact audit --tool acme/tools/deploy --since 24h
  enact audit --failures --limit 20
  enact audit --json`,
	RunE: runAudit,
}

var (
	auditTool     string
	auditSince    time.Duration
	auditLimit    int
	auditFailures bool
)

func init() {
	auditCmd.Flags().StringVar(&auditTool, "tool", "", "filter by tool name")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "only events newer than this, e.g. 24h")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of events")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "only failed operations and denials")

	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, _ []string) error {
	a, err := buildApp("", "")
	if err != nil {
		return err
	}
	defer a.close()

	filter := audit.QueryFilter{
		Tool:         auditTool,
		FailuresOnly: auditFailures,
		Limit:        auditLimit,
	}
	if auditSince > 0 {
		filter.Since = time.Now().Add(-auditSince)
	}

	events, err := a.auditLog.Query(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(events) == 0 {
		fmt.Println("No matching audit events.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tEVENT\tTOOL\tDECISION\tDETAIL")
	for _, ev := range events {
		detail := ev.Reason
		if detail == "" {
			detail = ev.Error
		}
		if len(detail) > 60 {
			detail = detail[:60] + "..."
		}
		tool := ev.Tool
		if tool == "" {
			tool = "-"
		}
		decision := ev.Decision
		if decision == "" {
			decision = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format("2006-01-02 15:04:05"),
			ev.Type,
			tool,
			decision,
			detail,
		)
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d events\n", len(events))
	return nil
}
