package main

import (
	"fmt"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/config"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the payment tables",
	Long: `Auto-migrates bookings, payments, refund_requests and
payment_audit_logs plus the users and admins tables, using the same
configuration as the API server.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := config.Migrate(db); err != nil {
		return err
	}
	fmt.Println("Migration complete")
	return nil
}
