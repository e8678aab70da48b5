package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/tonimelisma/graph-snippets/internal/app"
	"github.com/tonimelisma/graph-snippets/internal/ui"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

// preferTextBody asks Outlook for plain text message bodies.
const preferTextBody = `outlook.body-content-type="text"`

// pause waits between iterator pauses; replaced in tests.
var pause = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Work with the signed-in user's messages",
}

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Page through the signed-in user's messages",
	Long: `Lists messages page by page. By default the page iterator is used and the
iteration pauses every --pause-after messages for --pause before resuming.
With --manual the next links are followed without the iterator.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paging, err := ui.ParsePagingFlags(cmd)
		if err != nil {
			return err
		}
		a, err := appFromCommand(cmd)
		if err != nil {
			return err
		}
		return messagesListLogic(commandContext(cmd), a, cmd.OutOrStdout(), paging)
	},
}

func messagesListLogic(ctx context.Context, a *app.App, out io.Writer, paging ui.Paging) error {
	header := http.Header{}
	if paging.TextBody {
		header.Set("Prefer", preferTextBody)
	}

	link := a.SDK.MessagesURL(paging.Top, paging.Select)
	first, err := graph.GetPage[graph.Message](ctx, a.SDK, link, header)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	var total int
	if paging.Manual {
		total, err = pageMessagesManually(ctx, a, out, first, header, paging.TextBody)
	} else {
		total, err = iterateMessages(ctx, a, out, first, header, paging)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d message(s).\n", total)
	return nil
}

func iterateMessages(ctx context.Context, a *app.App, out io.Writer, first graph.Page[graph.Message], header http.Header, paging ui.Paging) (int, error) {
	var total, sincePause int
	visit := func(msg graph.Message) (bool, error) {
		total++
		sincePause++
		ui.DisplayMessage(out, total, msg, paging.TextBody)
		return paging.PauseAfter == 0 || sincePause < paging.PauseAfter, nil
	}

	it, err := graph.NewPageIterator(a.SDK, first, visit,
		graph.WithHeaders(header),
		graph.WithPageObserver(func(items int) {
			a.Logger.Debugf("fetched a page of %d messages", items)
		}),
	)
	if err != nil {
		return total, err
	}

	if err := it.Iterate(ctx); err != nil {
		return total, fmt.Errorf("iterating messages: %w", err)
	}
	// Stopping on the final item leaves nothing to wait for.
	for !it.Exhausted() {
		fmt.Fprintf(out, "Iteration paused for %s...\n", paging.Pause)
		if err := pause(ctx, paging.Pause); err != nil {
			return total, err
		}
		sincePause = 0
		if err := it.Resume(ctx); err != nil {
			return total, fmt.Errorf("resuming iteration: %w", err)
		}
	}
	return total, nil
}

func pageMessagesManually(ctx context.Context, a *app.App, out io.Writer, page graph.Page[graph.Message], header http.Header, showBody bool) (int, error) {
	var total int
	for {
		for _, msg := range page.Value {
			total++
			ui.DisplayMessage(out, total, msg, showBody)
		}
		if page.NextLink == nil || *page.NextLink == "" {
			return total, nil
		}
		next, err := graph.GetPage[graph.Message](ctx, a.SDK, *page.NextLink, header)
		if err != nil {
			return total, fmt.Errorf("fetching page '%s': %w", *page.NextLink, err)
		}
		page = next
	}
}

func init() {
	rootCmd.AddCommand(messagesCmd)
	messagesCmd.AddCommand(messagesListCmd)
	ui.AddPagingFlags(messagesListCmd)
}
