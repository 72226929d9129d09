package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gmptracker/internal/discussion"
)

var (
	flagAs          string
	flagSearchItem  string
	flagSearchLimit int
)

var chatCmd = &cobra.Command{
	Use:   "chat <item-id>",
	Short: "Show the discussion of a requirement",
	Long: `Show the discussion of a requirement.

Subcommands post, edit, delete and follow messages. Messages are posted under
your display name (see gmp name); only messages posted under that name can be
edited or deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

var chatSendCmd = &cobra.Command{
	Use:   "send <item-id> [message]",
	Short: "Post a message",
	Long: `Post a message. Without a message argument an editor opens.

Messages support **bold**, *italic*, ~~strike~~ and [links](https://example.com).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runChatSend,
}

var chatEditCmd = &cobra.Command{
	Use:   "edit <item-id> <message-id> [message]",
	Short: "Edit one of your messages",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runChatEdit,
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <item-id> <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE:  runChatDelete,
}

var chatWatchCmd = &cobra.Command{
	Use:   "watch <item-id>",
	Short: "Follow a discussion as it happens",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatWatch,
}

var nameCmd = &cobra.Command{
	Use:   "name [display-name]",
	Short: "Show or change the name your messages are posted under",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runName,
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search discussion messages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	chatSendCmd.Flags().StringVar(&flagAs, "as", "", "post under this display name (and keep it)")
	searchCmd.Flags().StringVar(&flagSearchItem, "item", "", "only search this requirement's discussion")
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 20, "maximum results")

	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatEditCmd)
	chatCmd.AddCommand(chatDeleteCmd)
	chatCmd.AddCommand(chatWatchCmd)
}

// withDiscussion opens itemID's discussion, runs fn under a context carrying
// the panel and closes the discussion afterwards.
func withDiscussion(itemID string, fn func(ctx context.Context, e *env) error) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	panel := e.discussionPanel()
	ctx = discussion.WithPanel(ctx, panel)
	defer panel.Close()

	if err := panel.Open(ctx, itemID, requirementTitle(ctx, e, itemID)); err != nil {
		return fmt.Errorf("failed to open discussion: %w", err)
	}
	return fn(ctx, e)
}

// requirementTitle is the catalog title of itemID, or "" when the catalog
// cannot be reached.
func requirementTitle(ctx context.Context, e *env, itemID string) string {
	cat, err := e.client.Catalog(ctx)
	if err != nil {
		return ""
	}
	req, _, ok := cat.Requirement(itemID)
	if !ok {
		return ""
	}
	return req.Title
}

func printThread(ctx context.Context) {
	panel := discussion.FromContext(ctx)
	state := panel.State()
	header := titleStyle.Render(state.ActiveItemID)
	if state.ActiveItemTitle != "" {
		header += " " + labelStyle.Render(state.ActiveItemTitle)
	}
	fmt.Println(header)
	fmt.Println(panelStyle.Render(renderThread(panel.Store(), panel.Store().Messages())))
}

func runChat(cmd *cobra.Command, args []string) error {
	return withDiscussion(args[0], func(ctx context.Context, e *env) error {
		printThread(ctx)
		return nil
	})
}

// ensureName makes sure a display name is set before posting, prompting for
// one when --as was not given.
func ensureName(store *discussion.Store) (string, error) {
	if name := strings.TrimSpace(flagAs); name != "" {
		return name, nil
	}
	if name := store.Name(); name != "" {
		return name, nil
	}
	name, err := promptLine("Your name", "Shown next to your messages", false)
	if err != nil {
		return "", err
	}
	return name, nil
}

func runChatSend(cmd *cobra.Command, args []string) error {
	return withDiscussion(args[0], func(ctx context.Context, e *env) error {
		store := discussion.FromContext(ctx).Store()
		author, err := ensureName(store)
		if err != nil {
			return err
		}
		body := ""
		if len(args) == 2 {
			body = args[1]
		} else {
			body, err = promptText("Message", store.Draft())
			if err != nil {
				return err
			}
		}
		if err := store.Send(ctx, args[0], author, body); err != nil {
			if errors.Is(err, discussion.ErrEmptyBody) {
				return errors.New("message is empty; nothing was sent")
			}
			return err
		}
		fmt.Printf("%s Posted as %s\n", successStyle.Render("✓"), author)
		return nil
	})
}

func runChatEdit(cmd *cobra.Command, args []string) error {
	return withDiscussion(args[0], func(ctx context.Context, e *env) error {
		store := discussion.FromContext(ctx).Store()
		msg, err := ownMessage(store, args[1])
		if err != nil {
			return err
		}
		body := ""
		if len(args) == 3 {
			body = args[2]
		} else {
			body, err = promptText("Edit message", msg.Body)
			if err != nil {
				return err
			}
		}
		if err := store.Edit(ctx, msg.ID, body); err != nil {
			return err
		}
		fmt.Printf("%s Message updated\n", successStyle.Render("✓"))
		return nil
	})
}

func runChatDelete(cmd *cobra.Command, args []string) error {
	return withDiscussion(args[0], func(ctx context.Context, e *env) error {
		store := discussion.FromContext(ctx).Store()
		msg, err := ownMessage(store, args[1])
		if err != nil {
			return err
		}
		err = store.SoftDelete(ctx, msg.ID)
		if errors.Is(err, discussion.ErrCancelled) {
			fmt.Println("Nothing was deleted")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s Message deleted\n", successStyle.Render("✓"))
		return nil
	})
}

// ownMessage finds messageID in the open thread and checks it may be changed
// under the current display name.
func ownMessage(store *discussion.Store, messageID string) (discussion.Message, error) {
	messageID = strings.TrimPrefix(messageID, "#")
	for _, msg := range store.Messages() {
		if msg.ID != messageID {
			continue
		}
		if !store.CanModify(msg) {
			return discussion.Message{}, errors.New("only your own messages can be changed")
		}
		return msg, nil
	}
	return discussion.Message{}, fmt.Errorf("message %s not found in this discussion", messageID)
}

func runChatWatch(cmd *cobra.Command, args []string) error {
	return withDiscussion(args[0], func(ctx context.Context, e *env) error {
		store := discussion.FromContext(ctx).Store()
		printThread(ctx)
		fmt.Println(dimStyle.Render("Following (Ctrl+C to stop)"))

		seen := map[string]discussion.Message{}
		for _, msg := range store.Messages() {
			seen[msg.ID] = msg
		}
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, msg := range store.Messages() {
					prev, ok := seen[msg.ID]
					if ok && prev == msg {
						continue
					}
					seen[msg.ID] = msg
					verb := "new"
					if ok {
						verb = "changed"
					}
					fmt.Printf("%s %s %s\n", dimStyle.Render(verb), titleStyle.Render(msg.AuthorName), renderMessageLine(store, msg))
				}
			}
		}
	})
}

func runName(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	store := discussion.NewStore(e.client, discussion.Options{Names: prefsNames{env: e}, Logger: e.logger})
	if len(args) == 0 {
		if name := store.Name(); name != "" {
			fmt.Printf("Posting as %s\n", titleStyle.Render(name))
		} else {
			fmt.Println(dimStyle.Render("No display name set"))
		}
		return nil
	}
	if err := store.SetName(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s Posting as %s\n", successStyle.Render("✓"), titleStyle.Render(store.Name()))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := commandContext()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	response, err := e.client.Search(ctx, strings.Join(args, " "), flagSearchItem, flagSearchLimit)
	if err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}
	if len(response.Results) == 0 {
		fmt.Println("No messages found")
		return nil
	}
	for _, result := range response.Results {
		fmt.Printf("%s %s %s\n  %s\n",
			hotkeyStyle.Render(result.ItemID),
			titleStyle.Render(result.UserName),
			dimStyle.Render(result.CreatedAt.Local().Format("Jan 2 15:04")),
			renderSnippet(result.Snippet))
	}
	if response.Total > len(response.Results) {
		fmt.Println(dimStyle.Render(fmt.Sprintf("%d of %d shown", len(response.Results), response.Total)))
	}
	return nil
}
