package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/markd/internal/config"
	"github.com/kalambet/markd/internal/procedures"
	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/storage"
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// optionalRating returns nil when the --rating flag was not given.
func optionalRating(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("rating") {
		return nil
	}
	r, _ := cmd.Flags().GetInt("rating")
	return &r
}

// changedString returns a pointer to the flag value only if it was set.
func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func parseTagID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tag id %q", s)
	}
	return id, nil
}

// --- bookmarks ---

var bookmarksCmd = &cobra.Command{
	Use:     "bookmarks",
	Aliases: []string{"bm"},
	Short:   "List and annotate bookmarks",
}

var bookmarksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List annotated bookmarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		withTags, _ := cmd.Flags().GetBool("tags")
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			if withTags {
				list, err := procedures.GetBookmarksWithTags.Query(ctx, c, rpc.Empty{})
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(list)
				}
				for _, b := range list {
					printBookmark(b.Bookmark)
					for _, t := range b.Tags {
						fmt.Fprintf(stdout, "      #%s\n", t.Name)
					}
				}
				return nil
			}

			list, err := procedures.GetBookmarks.Query(ctx, c, rpc.Empty{})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(list)
			}
			if len(list) == 0 {
				printStep("No bookmarks yet")
				return nil
			}
			for _, b := range list {
				printBookmark(b)
			}
			return nil
		})
	},
}

func printBookmark(b storage.Bookmark) {
	fmt.Fprintf(stdout, "%s  %s  %s\n", colorize(colorDim, truncate(b.ID, 8)), stars(b.Rating), colorize(colorBold, truncate(b.Title, 60)))
	fmt.Fprintf(stdout, "      %s\n", b.URL)
	if b.Note != "" {
		fmt.Fprintf(stdout, "      %s\n", truncate(b.Note, 80))
	}
}

var bookmarksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			b, err := procedures.GetBookmark.Query(ctx, c, procedures.BookmarkID{ID: args[0]})
			if err != nil {
				return err
			}
			if b == nil {
				return fmt.Errorf("bookmark %s not found", args[0])
			}
			return printJSON(b)
		})
	},
}

var bookmarksAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add an annotated bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		note, _ := cmd.Flags().GetString("note")
		id, _ := cmd.Flags().GetString("id")
		if title == "" {
			title = args[0]
		}
		in := procedures.AddBookmarkInput{
			ID:     id,
			URL:    args[0],
			Title:  title,
			Note:   note,
			Rating: optionalRating(cmd),
		}
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			b, err := procedures.AddBookmark.Mutate(ctx, c, in)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(b)
			}
			printSuccess("Added bookmark %s", b.ID)
			return nil
		})
	},
}

var bookmarksUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a bookmark's url, title, note or rating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := procedures.UpdateBookmarkInput{
			ID:     args[0],
			URL:    changedString(cmd, "url"),
			Title:  changedString(cmd, "title"),
			Note:   changedString(cmd, "note"),
			Rating: optionalRating(cmd),
		}
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			b, err := procedures.UpdateBookmark.Mutate(ctx, c, in)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(b)
			}
			printSuccess("Updated bookmark %s", b.ID)
			return nil
		})
	},
}

var bookmarksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a bookmark and its annotations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			out, err := procedures.DeleteBookmark.Mutate(ctx, c, procedures.BookmarkID{ID: args[0]})
			if err != nil {
				return err
			}
			printSuccess("Deleted bookmark %s", out.ID)
			return nil
		})
	},
}

func init() {
	bookmarksListCmd.Flags().Bool("tags", false, "include attached tags")

	bookmarksAddCmd.Flags().String("id", "", "bookmark id (generated when empty)")
	bookmarksAddCmd.Flags().String("title", "", "title (defaults to the URL)")
	bookmarksAddCmd.Flags().String("note", "", "free-form note")
	bookmarksAddCmd.Flags().Int("rating", 0, "rating from 1 to 5")

	bookmarksUpdateCmd.Flags().String("url", "", "new URL")
	bookmarksUpdateCmd.Flags().String("title", "", "new title")
	bookmarksUpdateCmd.Flags().String("note", "", "new note")
	bookmarksUpdateCmd.Flags().Int("rating", 0, "new rating from 1 to 5")

	bookmarksCmd.AddCommand(bookmarksListCmd, bookmarksShowCmd, bookmarksAddCmd, bookmarksUpdateCmd, bookmarksDeleteCmd)
}

// --- tags ---

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Manage tags and attach them to bookmarks",
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			tags, err := procedures.GetTags.Query(ctx, c, rpc.Empty{})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(tags)
			}
			for _, t := range tags {
				fmt.Fprintf(stdout, "%4d  %s  %s\n", t.ID, colorize(colorBold, t.Name), colorize(colorDim, t.Color))
			}
			return nil
		})
	},
}

var tagsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			t, err := procedures.AddTag.Mutate(ctx, c, procedures.AddTagInput{Name: args[0], Color: color})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(t)
			}
			printSuccess("Created tag %s (%d)", t.Name, t.ID)
			return nil
		})
	},
}

var tagsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Rename or recolor a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTagID(args[0])
		if err != nil {
			return err
		}
		in := procedures.UpdateTagInput{
			ID:    id,
			Name:  changedString(cmd, "name"),
			Color: changedString(cmd, "color"),
		}
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			t, err := procedures.UpdateTag.Mutate(ctx, c, in)
			if err != nil {
				return err
			}
			printSuccess("Updated tag %s (%d)", t.Name, t.ID)
			return nil
		})
	},
}

var tagsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a tag and detach it everywhere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTagID(args[0])
		if err != nil {
			return err
		}
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			if _, err := procedures.DeleteTag.Mutate(ctx, c, procedures.TagID{ID: id}); err != nil {
				return err
			}
			printSuccess("Deleted tag %d", id)
			return nil
		})
	},
}

func bookmarkTagArgs(args []string) (procedures.BookmarkTag, error) {
	id, err := parseTagID(args[1])
	if err != nil {
		return procedures.BookmarkTag{}, err
	}
	return procedures.BookmarkTag{BookmarkID: args[0], TagID: id}, nil
}

var tagsAttachCmd = &cobra.Command{
	Use:   "attach <bookmark-id> <tag-id>",
	Short: "Attach a tag to a bookmark",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := bookmarkTagArgs(args)
		if err != nil {
			return err
		}
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			if _, err := procedures.AddBookmarkTag.Mutate(ctx, c, in); err != nil {
				return err
			}
			printSuccess("Tagged %s with %d", in.BookmarkID, in.TagID)
			return nil
		})
	},
}

var tagsDetachCmd = &cobra.Command{
	Use:   "detach <bookmark-id> <tag-id>",
	Short: "Remove a tag from a bookmark",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := bookmarkTagArgs(args)
		if err != nil {
			return err
		}
		return withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			if _, err := procedures.DeleteBookmarkTag.Mutate(ctx, c, in); err != nil {
				return err
			}
			printSuccess("Removed tag %d from %s", in.TagID, in.BookmarkID)
			return nil
		})
	},
}

func init() {
	tagsAddCmd.Flags().String("color", "", "hex color such as #3b82f6")
	tagsUpdateCmd.Flags().String("name", "", "new name")
	tagsUpdateCmd.Flags().String("color", "", "new hex color")

	tagsCmd.AddCommand(tagsListCmd, tagsAddCmd, tagsUpdateCmd, tagsDeleteCmd, tagsAttachCmd, tagsDetachCmd)
}

// --- routes ---

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the procedures the server exposes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdContext(cmd), "/routes")
		if err != nil {
			return err
		}
		var routes []rpc.RouteInfo
		if err := decodeJSON(resp, &routes); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(routes)
		}
		for _, r := range routes {
			fmt.Fprintf(stdout, "  %-22s %s\n", colorize(colorBold, r.Name), r.Kind)
		}
		return nil
	},
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect or apply database migrations",
}

func openForMigrate(ctx context.Context) (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.Storage.DataDir, storage.Options{SkipMigrations: true})
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		store, err := openForMigrate(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		applied, err := store.AppliedMigrations(ctx)
		if err != nil {
			return err
		}
		pending, err := store.PendingMigrations(ctx)
		if err != nil {
			return err
		}
		for _, m := range applied {
			fmt.Fprintf(stdout, "  %s %s  %s\n", colorize(colorGreen, "applied"), m.Version, colorize(colorDim, m.AppliedAt.Format("2006-01-02 15:04:05")))
		}
		for _, v := range pending {
			fmt.Fprintf(stdout, "  %s %s\n", colorize(colorYellow, "pending"), v)
		}
		return nil
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		store, err := openForMigrate(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		applied, err := store.Migrate(ctx)
		for _, v := range applied {
			printSuccess("Applied %s", v)
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			printStep("Database is up to date")
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd, migrateUpCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
