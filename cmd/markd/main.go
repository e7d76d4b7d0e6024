package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor   bool
	jsonOut   bool
	transport string
)

var rootCmd = &cobra.Command{
	Use:           "markd",
	Short:         "Annotated bookmarks: notes, ratings and tags",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON results")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "how commands reach the server: http or ws")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(bookmarksCmd, tagsCmd, importCmd, routesCmd)
	rootCmd.AddCommand(migrateCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func checkTransport() error {
	switch transport {
	case "http", "ws":
		return nil
	default:
		return fmt.Errorf("unknown transport %q (want http or ws)", transport)
	}
}
