package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gmptracker/internal/client"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a workspace with its access key",
	Long: `Log in to a workspace with a workspace access key.

The key is read from GMP_WORKSPACE_KEY when set, otherwise prompted for.
The session is kept in the system keyring and refreshed automatically.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget its tokens",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current server, workspace and session",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}

	if e.prefs.Workspace == "" {
		workspace, err := promptLine("Workspace", "acme-qa", false)
		if err != nil {
			return err
		}
		e.prefs.Workspace = workspace
	}
	key := strings.TrimSpace(os.Getenv("GMP_WORKSPACE_KEY"))
	if key == "" {
		key, err = promptLine("Access key for "+e.prefs.Workspace, "", true)
		if err != nil {
			return err
		}
	}

	sess, err := e.client.Login(ctx, e.prefs.Workspace, key)
	if err != nil {
		if client.IsStatus(err, http.StatusUnauthorized) {
			return errors.New("workspace or key not recognised")
		}
		return fmt.Errorf("failed to log in: %w", err)
	}
	if err := e.savePreferences(); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}

	fmt.Printf("%s Logged in to %s as %s (%s)\n",
		successStyle.Render("✓"),
		titleStyle.Render(sess.Workspace),
		sess.KeyLabel,
		labelStyle.Render(sess.Role))
	if e.prefs.DisplayName == "" {
		fmt.Println(dimStyle.Render("Set the name your messages are posted under with: gmp name \"Your Name\""))
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if e.client.Session().Token == "" && e.client.Session().RefreshToken == "" {
		fmt.Println("Not logged in")
		return nil
	}
	if err := e.client.Logout(ctx); err != nil {
		fmt.Fprintln(os.Stderr, warnStyle.Render("server logout failed: "+err.Error()))
	}
	if err := e.creds.Delete(e.prefs.Server, e.prefs.Workspace); err != nil {
		return fmt.Errorf("failed to remove stored session: %w", err)
	}
	fmt.Printf("%s Logged out of %s\n", successStyle.Render("✓"), e.prefs.Workspace)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	sess := e.client.Session()
	fmt.Printf("%s %s\n", labelStyle.Render("Server:   "), e.prefs.Server)
	fmt.Printf("%s %s\n", labelStyle.Render("Workspace:"), valueOr(e.prefs.Workspace, "(none)"))
	fmt.Printf("%s %s\n", labelStyle.Render("Name:     "), valueOr(e.prefs.DisplayName, "(not set)"))
	if sess.Token == "" {
		fmt.Printf("%s %s\n", labelStyle.Render("Session:  "), dimStyle.Render("not logged in"))
		return nil
	}
	fmt.Printf("%s %s (%s)\n", labelStyle.Render("Key:      "), sess.KeyLabel, sess.Role)
	if !sess.ExpiresAt.IsZero() {
		fmt.Printf("%s %s\n", labelStyle.Render("Expires:  "), sess.ExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return dimStyle.Render(fallback)
	}
	return value
}
