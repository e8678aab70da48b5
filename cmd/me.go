package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"github.com/tonimelisma/graph-snippets/internal/app"
	"github.com/tonimelisma/graph-snippets/internal/ui"
)

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Greet the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromCommand(cmd)
		if err != nil {
			return err
		}
		return meLogic(commandContext(cmd), a, cmd.OutOrStdout())
	},
}

func meLogic(ctx context.Context, a *app.App, out io.Writer) error {
	user, err := a.SDK.GetMe(ctx)
	if err != nil {
		return err
	}
	ui.DisplayGreeting(out, user)
	return nil
}

func init() {
	rootCmd.AddCommand(meCmd)
}
