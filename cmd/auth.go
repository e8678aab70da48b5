// Package cmd (auth.go) defines the authentication commands: 'auth login',
// 'auth logout' and 'auth status'.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tonimelisma/graph-snippets/internal/app"
	"github.com/tonimelisma/graph-snippets/internal/ui"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
	"golang.org/x/oauth2"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication with Microsoft Graph",
	Long:  `Provides subcommands to sign in, sign out and check the authentication status.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Microsoft Graph",
	Long: `Signs in with the device code flow: you open a URL in any browser and enter
the code shown. If the command is interrupted, running it again continues
with the same code until it expires.

With --browser the authorization code flow with PKCE is used instead and the
sign-in is received on a local port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Load(cmd)
		if err != nil {
			return err
		}
		browser, _ := cmd.Flags().GetBool("browser")
		return authLoginLogic(commandContext(cmd), a, cmd.OutOrStdout(), browser)
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the current user session and log out",
	Long:  `Removes the stored token and any pending login. Interrupted uploads are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Load(cmd)
		if err != nil {
			return err
		}
		if err := a.Logout(); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		ui.Success(cmd.OutOrStdout(), "You have been logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the current authentication status",
	Long:  `Checks whether you are signed in and shows the signed-in user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		a, err := app.NewApp(cmd)
		if err != nil {
			if errors.Is(err, app.ErrLoginPending) {
				fmt.Fprintln(out, err.Error())
				return nil
			}
			if errors.Is(err, graph.ErrReauthRequired) {
				fmt.Fprintln(out, "You are not logged in. Please run 'graph-snippets auth login'.")
				return nil
			}
			return fmt.Errorf("checking authentication status: %w", err)
		}
		return authStatusLogic(commandContext(cmd), a, out)
	},
}

func authLoginLogic(ctx context.Context, a *app.App, out io.Writer, browser bool) error {
	token, err := a.Tokens.Load()
	if err != nil {
		return fmt.Errorf("loading token: %w", err)
	}
	if token != nil {
		fmt.Fprintln(out, "You are already logged in. To switch accounts, run 'graph-snippets auth logout' first.")
		return nil
	}

	if browser {
		_, err = a.LoginWithBrowser(ctx, func(authURL string) {
			fmt.Fprintln(out, "Open the following URL in your browser and sign in:")
			fmt.Fprintln(out, authURL)
		})
	} else {
		_, err = a.LoginWithDeviceCode(ctx, devicePrompt(out))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			if !browser {
				fmt.Fprintln(out, "\nLogin not finished. Run 'graph-snippets auth login' again to continue with the same code.")
			}
			return nil
		}
		return fmt.Errorf("login failed: %w", err)
	}

	ui.Success(out, "Login successful!")
	return nil
}

func devicePrompt(out io.Writer) app.DevicePrompt {
	return func(da *oauth2.DeviceAuthResponse, resumed bool) {
		if resumed {
			fmt.Fprintln(out, "Continuing the pending login.")
		}
		fmt.Fprintf(out, "To sign in, open a web browser and go to:\n%s\n", da.VerificationURI)
		fmt.Fprintf(out, "Then enter the code: %s\n", da.UserCode)
		if da.VerificationURIComplete != "" {
			fmt.Fprintf(out, "Or open %s directly.\n", da.VerificationURIComplete)
		}
		if !da.Expiry.IsZero() {
			fmt.Fprintf(out, "The code expires %s.\n", humanize.Time(da.Expiry))
		}
		fmt.Fprintln(out, "Waiting for you to finish signing in...")
	}
}

func authStatusLogic(ctx context.Context, a *app.App, out io.Writer) error {
	user, err := a.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("could not retrieve user information: %w", err)
	}
	ui.DisplayUser(out, user)

	if token, err := a.Tokens.Load(); err == nil && token != nil && !token.Expiry.IsZero() {
		fmt.Fprintf(out, "Access token expires %s (%s).\n", humanize.Time(token.Expiry), token.Expiry.Local().Format(time.RFC1123))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authLoginCmd.Flags().Bool("browser", false, "Sign in through a browser redirect instead of a device code")
}
