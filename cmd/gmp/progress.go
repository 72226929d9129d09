package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gmptracker/internal/catalog"
	"gmptracker/internal/progress"
	"gmptracker/internal/records"
)

var (
	flagUndo       bool
	flagIncomplete bool
	flagClearNotes bool
	flagStatus     string
)

var checklistsCmd = &cobra.Command{
	Use:     "checklists",
	Aliases: []string{"ls"},
	Short:   "List checklists with their completion",
	Args:    cobra.NoArgs,
	RunE:    runChecklists,
}

var itemsCmd = &cobra.Command{
	Use:   "items <checklist-id>",
	Short: "List the requirements of a checklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runItems,
}

var showCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Show a requirement and its tracked state",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var completeCmd = &cobra.Command{
	Use:   "complete <item-id>",
	Short: "Mark a requirement complete (or not, with --undo)",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

var statusCmd = &cobra.Command{
	Use:       "status <item-id> <have|partial|need>",
	Short:     "Set the evidence status of a requirement",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(records.StatusHave), string(records.StatusPartial), string(records.StatusNeed)},
	RunE:      runStatus,
}

var notesCmd = &cobra.Command{
	Use:   "notes <item-id> [text]",
	Short: "Edit the notes of a requirement",
	Long: `Edit the notes of a requirement.

With text, the notes are replaced by it. Without, an editor opens seeded with
the current notes. --clear empties them.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runNotes,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all progress of the workspace",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the server's completion summary",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow progress changes made by anyone in the workspace",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	completeCmd.Flags().BoolVar(&flagUndo, "undo", false, "mark the requirement not complete")
	itemsCmd.Flags().BoolVar(&flagIncomplete, "incomplete", false, "only show requirements not yet complete")
	itemsCmd.Flags().StringVar(&flagStatus, "status", "", "only show requirements with this status")
	notesCmd.Flags().BoolVar(&flagClearNotes, "clear", false, "empty the notes")
}

// withProgress loads the progress store, runs fn and waits for every write
// fn started.
func withProgress(fn func(ctx context.Context, e *env, store *progress.Store) error) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	store := e.progressStore(ctx)
	runErr := fn(ctx, e, store)
	store.Close()
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Flush(flushCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to finish saving: %w", err))
	}
	return runErr
}

func loadCatalog(ctx context.Context, e *env) (*catalog.Catalog, error) {
	cat, err := e.client.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checklists: %w", err)
	}
	return cat, nil
}

func runChecklists(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		cat, err := loadCatalog(ctx, e)
		if err != nil {
			return err
		}
		stats := cat.Stats(store.IsComplete)
		for i, s := range stats {
			checklist := cat.Checklists[i]
			fmt.Printf("%s %s\n", titleStyle.Render(checklist.Name), dimStyle.Render("("+checklist.ID+")"))
			if checklist.Description != "" {
				fmt.Printf("  %s\n", labelStyle.Render(checklist.Description))
			}
			fmt.Printf("  %s\n\n", statsLine(s))
		}
		overall := catalog.Overall(stats)
		fmt.Printf("%s  %s\n", hotkeyStyle.Render("Overall"), statsLine(overall))
		return nil
	})
}

func runItems(cmd *cobra.Command, args []string) error {
	var filter records.Status
	if flagStatus != "" {
		parsed, ok := records.ParseStatus(flagStatus)
		if !ok {
			return progress.ErrInvalidStatus
		}
		filter = parsed
	}
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		cat, err := loadCatalog(ctx, e)
		if err != nil {
			return err
		}
		checklist, ok := cat.Checklist(args[0])
		if !ok {
			return fmt.Errorf("checklist %s not found", args[0])
		}
		fmt.Printf("%s  %s\n", titleStyle.Render(checklist.Name), statsLine(cat.Stats(store.IsComplete)[checklistIndex(cat, checklist.ID)]))
		for _, section := range checklist.Sections {
			var lines []string
			for _, req := range section.Requirements {
				entry := store.Entry(req.ID)
				if flagIncomplete && entry.IsComplete {
					continue
				}
				if filter != "" && entry.Status != filter {
					continue
				}
				lines = append(lines, fmt.Sprintf("%s %-4s %-10s %s  %s",
					checkmark(entry.IsComplete), priorityBadge(req.Priority), req.ID, req.Title, statusBadge(entry.Status)))
			}
			if len(lines) == 0 {
				continue
			}
			fmt.Printf("\n%s\n", labelStyle.Render(section.Title))
			fmt.Println(strings.Join(lines, "\n"))
		}
		return nil
	})
}

func checklistIndex(cat *catalog.Catalog, id string) int {
	for i, checklist := range cat.Checklists {
		if checklist.ID == id {
			return i
		}
	}
	return 0
}

func runShow(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		cat, err := loadCatalog(ctx, e)
		if err != nil {
			return err
		}
		req, checklist, ok := cat.Requirement(args[0])
		if !ok {
			return fmt.Errorf("requirement %s not found", args[0])
		}
		entry := store.Entry(req.ID)
		fmt.Println(panelStyle.Render(renderRequirement(req, checklist, entry)))
		return nil
	})
}

func renderRequirement(req catalog.Requirement, checklist catalog.Checklist, entry progress.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(req.Title), dimStyle.Render(req.ID))
	if req.Subtitle != "" {
		fmt.Fprintf(&b, "%s\n", labelStyle.Render(req.Subtitle))
	}
	fmt.Fprintf(&b, "%s %s   %s %s\n", labelStyle.Render("Checklist:"), checklist.Name, labelStyle.Render("Priority:"), priorityBadge(req.Priority))
	if req.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", req.Description)
	}
	if req.RegulatoryQuote != "" {
		fmt.Fprintf(&b, "\n%s\n", quoteStyle.Render("“"+req.RegulatoryQuote+"”"))
	}
	if req.Source != "" {
		source := req.Source
		if req.SourceURL != "" {
			source += " <" + req.SourceURL + ">"
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Source:"), source)
	}
	if len(req.EvidenceNeeded) > 0 {
		fmt.Fprintf(&b, "\n%s\n", labelStyle.Render("Evidence needed:"))
		for _, evidence := range req.EvidenceNeeded {
			fmt.Fprintf(&b, "  • %s\n", evidence)
		}
	}
	fmt.Fprintf(&b, "\n%s %s   %s %s\n", labelStyle.Render("Complete:"), checkmark(entry.IsComplete), labelStyle.Render("Status:"), statusBadge(entry.Status))
	if entry.Notes != "" {
		fmt.Fprintf(&b, "%s\n%s\n", labelStyle.Render("Notes:"), entry.Notes)
	}
	if !entry.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "%s", dimStyle.Render("Updated "+entry.UpdatedAt.Local().Format(time.DateTime)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func runComplete(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		if err := store.ToggleComplete(args[0], !flagUndo); err != nil {
			return err
		}
		if flagUndo {
			fmt.Printf("%s %s marked not complete\n", checkmark(false), args[0])
		} else {
			fmt.Printf("%s %s marked complete\n", checkmark(true), args[0])
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		if err := store.UpdateStatus(args[0], records.Status(args[1])); err != nil {
			return err
		}
		fmt.Printf("%s status is now %s\n", args[0], statusBadge(store.Entry(args[0]).Status))
		return nil
	})
}

func runNotes(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		itemID := args[0]
		var text string
		switch {
		case flagClearNotes:
			text = ""
		case len(args) == 2:
			text = args[1]
		default:
			edited, err := promptText("Notes for "+itemID, store.Entry(itemID).Notes)
			if err != nil {
				return err
			}
			text = edited
		}
		if err := store.UpdateNotes(itemID, text); err != nil {
			return err
		}
		fmt.Printf("%s Notes saved for %s\n", successStyle.Render("✓"), itemID)
		return nil
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		err := store.ResetAll(ctx)
		if errors.Is(err, progress.ErrCancelled) {
			fmt.Println("Nothing was reset")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s All progress for %s was reset\n", successStyle.Render("✓"), e.prefs.Workspace)
		return nil
	})
}

func runSummary(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	summary, err := e.client.Summary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load summary: %w", err)
	}
	width := 0
	for _, s := range summary.Checklists {
		width = max(width, len(s.Name))
	}
	for _, s := range summary.Checklists {
		fmt.Printf("%-*s  %s\n", width, s.Name, statsLine(s))
	}
	fmt.Printf("%-*s  %s\n", width, "Overall", statsLine(summary.Overall))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withProgress(func(ctx context.Context, e *env, store *progress.Store) error {
		if err := store.Watch(ctx); err != nil {
			return err
		}
		// withProgress loaded before the feed was subscribed; reload so
		// changes committed in between are picked up.
		store.Load(ctx)
		sub, err := e.client.Subscribe(ctx, records.TableProgress, "")
		if err != nil {
			return fmt.Errorf("failed to follow progress: %w", err)
		}
		defer sub.Close()

		fmt.Println(dimStyle.Render("Watching " + e.prefs.Workspace + " (Ctrl+C to stop)"))
		for {
			select {
			case <-ctx.Done():
				return nil
			case change, ok := <-sub.C:
				if !ok {
					return errors.New("change feed closed")
				}
				fmt.Println(describeProgressChange(change))
			}
		}
	})
}

func describeProgressChange(change records.Change) string {
	stamp := dimStyle.Render(change.CommitTimestamp.Local().Format(time.TimeOnly))
	if change.Type == records.EventDelete {
		return fmt.Sprintf("%s %s cleared", stamp, change.OldItemID())
	}
	row, err := change.DecodeProgress()
	if err != nil {
		return fmt.Sprintf("%s %s", stamp, errorStyle.Render(err.Error()))
	}
	line := fmt.Sprintf("%s %s %s %s", stamp, checkmark(row.IsComplete), row.ItemID, statusBadge(row.Status))
	if row.Notes != "" {
		line += " " + dimStyle.Render(firstLine(row.Notes))
	}
	return line
}

func firstLine(text string) string {
	line, _, cut := strings.Cut(text, "\n")
	if cut {
		return line + "…"
	}
	return line
}
