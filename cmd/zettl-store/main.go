package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zettl-store",
	Short: "Tenant-scoped PostgreSQL storage layer for Zettl",
	Long: `zettl-store owns the Zettl database: the composite-key schema, the
tenant-stamping triggers, the row-level-security policies and the derived
views, plus the migration that converts a single-tenant database to this
layout. The data plane itself is served by PostgREST; this binary manages
the schema and the administrative surface.`,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(initTenantCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
