package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cstatelab/wakebench/pkg/store"
)

var (
	exportSession string
	exportOutput  string
)

func createExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export session datapoints",
		Long:  "Export a session's datapoints in various formats",
	}

	cmd.AddCommand(exportCSVCmd())
	cmd.AddCommand(exportJSONCmd())

	return cmd
}

func exportCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Export datapoints to CSV format",
		Long: `Export a session's datapoints to CSV format.

Examples:
  # Export a session to file
  wakebench export csv --session <id> --out results.csv

  # Export to stdout
  wakebench export csv --session <id>`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runExport(func(db *store.DB, w io.Writer) error {
				return db.ExportCSV(w, exportSession)
			})
		},
	}

	cmd.Flags().StringVar(&exportSession, "session", "", "Session ID to export")
	cmd.Flags().StringVarP(&exportOutput, "out", "o", "", "Output file (default: stdout)")

	return cmd
}

func exportJSONCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "json",
		Short: "Export datapoints to JSON format",
		Long: `Export a session's datapoints to JSON format.

Examples:
  # Export a session to file
  wakebench export json --session <id> --out results.json`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runExport(func(db *store.DB, w io.Writer) error {
				return db.ExportJSON(w, exportSession)
			})
		},
	}

	cmd.Flags().StringVar(&exportSession, "session", "", "Session ID to export")
	cmd.Flags().StringVarP(&exportOutput, "out", "o", "", "Output file (default: stdout)")

	return cmd
}

func runExport(export func(*store.DB, io.Writer) error) error {
	if exportSession == "" {
		return fmt.Errorf("--session is required")
	}

	db, err := store.Open(getDBPath())
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer db.Close()

	var w io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return export(db, w)
}
