package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gmptracker/internal/client"
	"gmptracker/internal/config"
	"gmptracker/internal/credential"
	"gmptracker/internal/discussion"
	"gmptracker/internal/localstate"
	"gmptracker/internal/progress"
)

var (
	// rootCtx is cancelled on SIGINT/SIGTERM.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	flagServer    string
	flagWorkspace string
	flagYes       bool
)

var rootCmd = &cobra.Command{
	Use:           "gmp",
	Short:         "Track GMP compliance checklists from the terminal",
	Long:          `gmp marks checklist requirements complete, records their evidence status and notes, and discusses individual items with the rest of the workspace.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// commandContext returns the signal-cancellable root context.
func commandContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "API base URL (overrides preferences)")
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace id (overrides preferences)")
	rootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "answer yes to confirmation prompts")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(checklistsCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(notesCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(searchCmd)
}

// env is everything a command needs to talk to the API on behalf of the
// logged-in user.
type env struct {
	dir       string
	prefsPath string
	prefs     *config.Preferences
	creds     *credential.Store
	client    *client.Client
	logger    *log.Logger
}

func loadEnv() (*env, error) {
	dir, err := config.ClientDir()
	if err != nil {
		return nil, err
	}
	prefsPath := filepath.Join(dir, config.PreferencesFile)
	prefs, err := config.LoadPreferences(prefsPath)
	if err != nil {
		return nil, err
	}
	if server := strings.TrimSpace(flagServer); server != "" {
		prefs.Server = server
	}
	if workspace := strings.TrimSpace(flagWorkspace); workspace != "" {
		prefs.Workspace = workspace
	}

	creds, err := credential.Open(dir)
	if err != nil {
		return nil, err
	}

	e := &env{
		dir:       dir,
		prefsPath: prefsPath,
		prefs:     prefs,
		creds:     creds,
		client:    client.New(prefs.Server),
		logger:    log.New(os.Stderr, "", 0),
	}
	if prefs.Workspace != "" {
		sess, ok, err := creds.Load(prefs.Server, prefs.Workspace)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if ok {
			e.client.SetSession(sess)
		}
	}
	e.client.OnRefresh(func(sess client.Session) {
		if err := e.creds.Save(e.prefs.Server, sess); err != nil {
			fmt.Fprintln(os.Stderr, warnStyle.Render("could not store session: "+err.Error()))
		}
	})
	return e, nil
}

// requireSession fails early with a hint when nobody is logged in.
func (e *env) requireSession() error {
	if e.client.Session().Token == "" {
		return fmt.Errorf("not logged in; run %s", hotkeyStyle.Render("gmp login"))
	}
	return nil
}

// snapshot is the offline copy of the active workspace's progress.
func (e *env) snapshot() *localstate.Snapshot {
	workspace := e.prefs.Workspace
	if workspace == "" {
		workspace = "default"
	}
	return localstate.Open(filepath.Join(e.dir, "workspaces", url.PathEscape(workspace)))
}

// progressStore returns a loaded progress store. Callers Close it, which
// sends any pending notes, then Flush to wait for the writes.
func (e *env) progressStore(ctx context.Context) *progress.Store {
	store := progress.New(e.client, progress.Options{
		Fallback: e.snapshot(),
		Confirm:  progress.ConfirmFunc(confirm),
		Logger:   e.logger,
	})
	store.Load(ctx)
	return store
}

func (e *env) discussionPanel() *discussion.Panel {
	store := discussion.NewStore(e.client, discussion.Options{
		Names:   prefsNames{env: e},
		Confirm: discussion.ConfirmFunc(confirm),
		Logger:  e.logger,
	})
	return discussion.NewPanel(store)
}

// savePreferences writes the effective preferences back to disk.
func (e *env) savePreferences() error {
	return e.prefs.Save(e.prefsPath)
}

// prefsNames keeps the chat display name in preferences.toml.
type prefsNames struct {
	env *env
}

func (n prefsNames) DisplayName() string {
	return n.env.prefs.DisplayName
}

func (n prefsNames) SetDisplayName(name string) error {
	n.env.prefs.DisplayName = name
	return n.env.savePreferences()
}
