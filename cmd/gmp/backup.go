package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"gmptracker/internal/progress"
	"gmptracker/internal/records"
)

var (
	flagFormat       string
	flagOutput       string
	flagArchive      bool
	flagLocal        bool
	flagHistoryLimit int
	flagMessage      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download a progress backup or report",
	Long: `Download a progress backup (json) or a progress report (pdf, docx).

--local writes the JSON backup from the offline snapshot without contacting
the server.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <backup.json>",
	Short: "Replace the workspace's progress with a backup file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var historyCmd = &cobra.Command{
	Use:   "history [hash]",
	Short: "List progress checkpoints, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Record the current progress as a checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runCheckpoint,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <hash>",
	Short: "Restore progress from a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	exportCmd.Flags().StringVarP(&flagFormat, "format", "f", "json", "json, pdf or docx")
	exportCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "file to write (default: server-suggested name)")
	exportCmd.Flags().BoolVar(&flagArchive, "archive", false, "also keep a copy in the server's report archive")
	exportCmd.Flags().BoolVar(&flagLocal, "local", false, "export the offline snapshot instead")
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of checkpoints to list")
	checkpointCmd.Flags().StringVarP(&flagMessage, "message", "m", "", "checkpoint message")
}

func exportFormat(value string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(value)); format {
	case "json", "pdf", "docx":
		return format, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, pdf or docx)", value)
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := exportFormat(flagFormat)
	if err != nil {
		return err
	}
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}

	if flagLocal {
		if format != "json" {
			return errors.New("--local only supports the json format")
		}
		backup, ok, err := e.snapshot().Load()
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no offline snapshot yet")
		}
		data, err := json.MarshalIndent(backup, "", "  ")
		if err != nil {
			return err
		}
		return writeExport(valueOrDefault(flagOutput, "gmp-compliance-progress.json"), data)
	}

	if err := e.requireSession(); err != nil {
		return err
	}
	download, err := e.client.Export(ctx, format, flagArchive)
	if err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	if err := writeExport(valueOrDefault(flagOutput, download.Filename), download.Data); err != nil {
		return err
	}
	if download.ArchiveKey != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("Archived as"), download.ArchiveKey)
		if download.ArchiveURL != "" {
			fmt.Printf("%s %s\n", labelStyle.Render("Link:"), download.ArchiveURL)
		}
	}
	return nil
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	if fallback == "" {
		return "gmp-export"
	}
	return filepath.Base(fallback)
}

func writeExport(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("%s Wrote %s (%d bytes)\n", successStyle.Render("✓"), path, len(data))
	return nil
}

// readBackup parses a backup file. Missing sections are treated as empty.
func readBackup(path string) (records.Backup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return records.Backup{}, fmt.Errorf("failed to read backup: %w", err)
	}
	backup := records.EmptyBackup()
	if err := json.Unmarshal(data, &backup); err != nil {
		return records.Backup{}, fmt.Errorf("invalid backup file: %w", err)
	}
	if backup.CompletedItems == nil {
		backup.CompletedItems = []string{}
	}
	if backup.Statuses == nil {
		backup.Statuses = map[string]records.Status{}
	}
	if backup.Notes == nil {
		backup.Notes = map[string]string{}
	}
	return backup, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	backup, err := readBackup(args[0])
	if err != nil {
		return err
	}
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		prompt := fmt.Sprintf("Replace all progress of %s with %s (%d items)?", e.prefs.Workspace, filepath.Base(args[0]), len(backup.Rows()))
		ok, err := confirm(ctx, prompt)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Nothing was imported")
			return nil
		}
		if err := store.Import(ctx, backup); err != nil {
			return err
		}
		fmt.Printf("%s Imported %d item(s)\n", successStyle.Render("✓"), len(store.Entries()))
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}

	if len(args) == 1 {
		entry, err := e.client.HistoryEntry(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		fmt.Printf("%s %s\n", hotkeyStyle.Render(shortHash(entry.Commit.Hash)), entry.Commit.Message)
		fmt.Printf("%s %s, %s\n", labelStyle.Render("By"), entry.Commit.Author, entry.Commit.CreatedAt)
		fmt.Printf("%s %d complete\n", labelStyle.Render("Snapshot:"), len(entry.Snapshot.CompletedItems))
		if len(entry.Changes) == 0 {
			fmt.Println(dimStyle.Render("No changes from the previous checkpoint"))
			return nil
		}
		for _, change := range entry.Changes {
			fmt.Printf("  %-10s %-12s %s → %s\n", change.ItemID, change.Field, dimStyle.Render(valueOr(change.Before, "-")), valueOr(change.After, "-"))
		}
		return nil
	}

	commits, err := e.client.History(ctx, flagHistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if len(commits) == 0 {
		fmt.Println("No checkpoints yet")
		return nil
	}
	for _, commit := range commits {
		fmt.Printf("%s %s %s\n", hotkeyStyle.Render(shortHash(commit.Hash)), commit.Message, dimStyle.Render(commit.Author+", "+commit.CreatedAt))
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	commit, err := e.client.Checkpoint(ctx, flagMessage)
	if err != nil {
		return fmt.Errorf("failed to record checkpoint: %w", err)
	}
	fmt.Printf("%s Checkpoint %s\n", successStyle.Render("✓"), hotkeyStyle.Render(shortHash(commit.Hash)))
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		ok, err := confirm(ctx, "Replace all progress with checkpoint "+shortHash(args[0])+"?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Nothing was restored")
			return nil
		}
		rows, err := e.client.Restore(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to restore: %w", err)
		}
		// The server replaced every row; reload so the offline snapshot matches.
		store.Load(ctx)
		fmt.Printf("%s Restored %d item(s) from %s\n", successStyle.Render("✓"), len(rows), shortHash(args[0]))
		return nil
	})
}
