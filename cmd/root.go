// Package cmd (root.go) defines the root command for the graph-snippets CLI.
// It sets up global flags, connects the Graph client for commands that need
// a signed-in user and registers the subcommands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tonimelisma/graph-snippets/internal/app"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

type appKey struct{}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "graph-snippets",
	Short: "Samples for calling Microsoft Graph from Go",
	Long: `graph-snippets signs in to Microsoft Graph and runs small samples
against the signed-in user's account:

  - Authentication with the device code flow or a browser (auth login)
  - Reading the user's profile (me)
  - Paging through messages with pause and resume (messages list)
  - Resumable large file uploads to OneDrive and to message attachments (upload)

Configuration is read from config.yaml in the user config directory and from
GRAPH_SNIPPETS_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE connects the Graph client before every command that
	// needs a signed-in user and stores the app in the command context.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !requiresSignIn(cmd) {
			return nil
		}
		a, err := app.NewApp(cmd)
		if err != nil {
			if errors.Is(err, app.ErrLoginPending) {
				fmt.Fprintln(cmd.OutOrStdout(), err.Error())
				return app.ErrLoginPending
			}
			if errors.Is(err, graph.ErrReauthRequired) {
				return fmt.Errorf("%w: run 'graph-snippets auth login' to sign in", err)
			}
			return err
		}
		cmd.SetContext(context.WithValue(commandContext(cmd), appKey{}, a))
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// requiresSignIn reports whether cmd talks to Graph as the signed-in user.
// The auth commands establish the sign-in themselves.
func requiresSignIn(cmd *cobra.Command) bool {
	if !cmd.HasParent() {
		return false
	}
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "auth", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

// appFromCommand returns the app connected by PersistentPreRunE.
func appFromCommand(cmd *cobra.Command) (*app.App, error) {
	if a, ok := commandContext(cmd).Value(appKey{}).(*app.App); ok {
		return a, nil
	}
	return app.NewApp(cmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Execute runs the root command. An interrupt cancels the command context,
// which stops uploads and logins at the next request boundary so they can
// be resumed.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// The pending login message was already printed.
		if !errors.Is(err, app.ErrLoginPending) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging, including HTTP request and response dumps")
}
