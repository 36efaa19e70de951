package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/config"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var auditJSON bool

var auditCmd = &cobra.Command{
	Use:   "audit <transactionId>",
	Short: "Print the audit trail of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().BoolVarP(&auditJSON, "json", "j", false, "output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}

	// read-only: no gateway or locks needed
	svc := payments.NewService(db, nil, nil, nil, payments.Settings{}, zap.NewNop())
	logs, err := svc.AuditTrail(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if auditJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(logs)
	}

	if len(logs) == 0 {
		fmt.Println("No audit entries")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOPERATION\tOUTCOME\tKIND\tESITO\tCODE\tMAC\tACTOR")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s:%d\n",
			l.CreatedAt.Format("2006-01-02 15:04:05"), l.Operation, l.Outcome, l.ErrorKind,
			l.Esito, l.CodiceEsito, l.MACVerificationStatus, l.ActorRole, l.ActorID)
	}
	return w.Flush()
}
