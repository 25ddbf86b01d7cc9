package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/funcgate/internal/storage"
	"github.com/michaelbrown/funcgate/internal/storage/sqlite"
)

var (
	statusFilter string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var recordsCmd = &cobra.Command{
	Use:     "records",
	Aliases: []string{"record", "r"},
	Short:   "Inspect stored completion records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completion records",
	RunE:  runRecordsList,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show a record's prompt and raw output",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsDelete,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsDeleteCmd)

	recordsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (ok, validation_error, decode_error, engine_error, canceled)")
	recordsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max records to show")

	recordsShowCmd.Flags().StringVar(&exportFormat, "format", "md", "Output format: md or json")
	recordsShowCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	recordsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (*sqlite.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecords(context.Background(), storage.RecordListOptions{
		Status: storage.RecordStatus(statusFilter),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No records found.")
		return nil
	}

	fmt.Printf("%-10s %-17s %-8s %-20s %-10s %s\n", "ID", "STATUS", "STREAM", "MODEL", "DURATION", "CREATED")
	fmt.Println(strings.Repeat("─", 85))

	for _, r := range records {
		model := r.Model
		if model == "" {
			model = "-"
		}
		if len(model) > 18 {
			model = model[:18] + ".."
		}
		fmt.Printf("%-10s %-17s %-8t %-20s %-10s %s\n",
			r.ID[:8], r.Status, r.Stream, model, r.Duration.Round(time.Millisecond), timeAgo(r.CreatedAt))
	}

	return nil
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetRecord(context.Background(), args[0])
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(rec)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	default:
		output = storage.ExportMarkdown(rec)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func runRecordsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	rec, err := store.GetRecord(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete record %s (%s)? [y/N] ", rec.ID[:8], rec.Status)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteRecord(ctx, rec.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted record %s\n", rec.ID[:8])
	return nil
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
