package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tonimelisma/graph-snippets/internal/app"
	"github.com/tonimelisma/graph-snippets/internal/session"
	"github.com/tonimelisma/graph-snippets/internal/ui"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <local-file> [remote-folder]",
	Short: "Upload a large file to OneDrive",
	Long: `Uploads a local file to a folder in your OneDrive through a resumable upload
session, one slice at a time. If remote-folder is omitted, uploads to the root.

An interrupted upload is remembered and continues where the server left off
the next time the same file is uploaded to the same folder. Use --fresh to
discard it and start over.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromCommand(cmd)
		if err != nil {
			return err
		}
		opts, err := parseUploadFlags(cmd)
		if err != nil {
			return err
		}
		remoteFolder := "/"
		if len(args) > 1 {
			remoteFolder = args[1]
		}
		return uploadLogic(commandContext(cmd), a, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], remoteFolder, opts)
	},
}

var uploadAttachCmd = &cobra.Command{
	Use:   "attach <local-file>",
	Short: "Upload a large file as a message attachment",
	Long: `Uploads a local file as an attachment through an attachment upload session.
Without --message-id a new draft message is created first; rerun with the
printed --message-id to resume an interrupted upload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromCommand(cmd)
		if err != nil {
			return err
		}
		opts, err := parseUploadFlags(cmd)
		if err != nil {
			return err
		}
		messageID, _ := cmd.Flags().GetString("message-id")
		subject, _ := cmd.Flags().GetString("subject")
		return uploadAttachLogic(commandContext(cmd), a, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], messageID, subject, opts)
	},
}

var uploadStatusCmd = &cobra.Command{
	Use:   "status <upload-url>",
	Short: "Get the status of a resumable upload session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromCommand(cmd)
		if err != nil {
			return err
		}
		return uploadStatusLogic(commandContext(cmd), a, cmd.OutOrStdout(), args[0])
	},
}

var uploadCancelCmd = &cobra.Command{
	Use:   "cancel <upload-url>",
	Short: "Cancel a resumable upload session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFromCommand(cmd)
		if err != nil {
			return err
		}
		return uploadCancelLogic(commandContext(cmd), a, cmd.OutOrStdout(), args[0])
	},
}

// uploadFlags are the flags shared by the upload commands.
type uploadFlags struct {
	sliceSize int64
	fresh     bool
}

func parseUploadFlags(cmd *cobra.Command) (uploadFlags, error) {
	sliceSize, err := cmd.Flags().GetInt64("slice-size")
	if err != nil {
		return uploadFlags{}, fmt.Errorf("error parsing slice-size flag: %w", err)
	}
	if sliceSize < 0 || sliceSize%graph.SliceAlignment != 0 || sliceSize > graph.MaxSliceSize {
		return uploadFlags{}, fmt.Errorf("--slice-size must be a multiple of %d bytes up to %d, got %d", graph.SliceAlignment, graph.MaxSliceSize, sliceSize)
	}
	fresh, err := cmd.Flags().GetBool("fresh")
	if err != nil {
		return uploadFlags{}, fmt.Errorf("error parsing fresh flag: %w", err)
	}
	return uploadFlags{sliceSize: sliceSize, fresh: fresh}, nil
}

// uploadJob describes one file upload and how to create its session.
type uploadJob struct {
	kind       string
	localPath  string
	remotePath string
	info       os.FileInfo
	flags      uploadFlags
	create     func(ctx context.Context) (graph.UploadSession, error)
}

func uploadLogic(ctx context.Context, a *app.App, out, errOut io.Writer, localPath, remoteFolder string, flags uploadFlags) error {
	info, err := statUploadFile(localPath)
	if err != nil {
		return err
	}
	remotePath := joinRemotePath(remoteFolder, filepath.Base(localPath))

	return runUploadJob(ctx, a, out, errOut, uploadJob{
		kind:       session.KindDrive,
		localPath:  localPath,
		remotePath: remotePath,
		info:       info,
		flags:      flags,
		create: func(ctx context.Context) (graph.UploadSession, error) {
			return a.SDK.CreateDriveUploadSession(ctx, remotePath)
		},
	})
}

func uploadAttachLogic(ctx context.Context, a *app.App, out, errOut io.Writer, localPath, messageID, subject string, flags uploadFlags) error {
	info, err := statUploadFile(localPath)
	if err != nil {
		return err
	}

	if messageID == "" {
		msg, err := a.SDK.CreateDraftMessage(ctx, subject)
		if err != nil {
			return fmt.Errorf("creating draft message: %w", err)
		}
		if msg.ID == nil || *msg.ID == "" {
			return fmt.Errorf("%w: draft message has no id", graph.ErrDecodingFailed)
		}
		messageID = *msg.ID
		fmt.Fprintf(out, "Created draft message '%s' (--message-id %s).\n", subject, messageID)
	}

	item := graph.AttachmentItem{AttachmentType: "file", Name: filepath.Base(localPath), Size: info.Size()}
	return runUploadJob(ctx, a, out, errOut, uploadJob{
		kind:       session.KindAttachment,
		localPath:  localPath,
		remotePath: messageID,
		info:       info,
		flags:      flags,
		create: func(ctx context.Context) (graph.UploadSession, error) {
			return a.SDK.CreateAttachmentUploadSession(ctx, messageID, item)
		},
	})
}

func statUploadFile(localPath string) (os.FileInfo, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("local file '%s' does not exist", localPath)
		}
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("'%s' is a directory", localPath)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("'%s' is empty; upload sessions need at least one byte", localPath)
	}
	return info, nil
}

func runUploadJob(ctx context.Context, a *app.App, out, errOut io.Writer, job uploadJob) error {
	state, err := a.Sessions.Load(job.kind, job.localPath, job.remotePath)
	if err != nil {
		return fmt.Errorf("loading session state: %w", err)
	}
	if state != nil && (job.flags.fresh || !state.Matches(job.info)) {
		if !job.flags.fresh {
			fmt.Fprintln(out, "The local file changed since the interrupted upload; starting over.")
		}
		discardUpload(ctx, a, job, state)
		state = nil
	}

	if state != nil {
		fmt.Fprintf(out, "Resuming upload of '%s' from %s.\n", job.localPath, ui.FormatBytes(state.CompletedBytes))
		result, err := transfer(ctx, a, errOut, job, state, true)
		if err == nil || !sessionGone(err) {
			return finishUpload(ctx, a, out, job, state, result, err)
		}
		fmt.Fprintln(out, "The upload session is no longer available; starting over.")
		discardUpload(ctx, a, job, state)
	}

	uploadSession, err := job.create(ctx)
	if err != nil {
		return fmt.Errorf("creating upload session: %w", err)
	}
	state = session.NewState(job.kind, job.localPath, job.remotePath, job.info, uploadSession)
	if err := a.Sessions.Save(state); err != nil {
		a.Logger.Warnf("could not save upload session state: %v", err)
	}
	result, err := transfer(ctx, a, errOut, job, state, false)
	return finishUpload(ctx, a, out, job, state, result, err)
}

// transfer runs the upload task for state, persisting the acknowledged
// progress after every slice.
func transfer(ctx context.Context, a *app.App, errOut io.Writer, job uploadJob, state *session.State, resume bool) (*graph.UploadResult, error) {
	source, err := graph.NewFileSource(job.localPath)
	if err != nil {
		return nil, err
	}

	bar := ui.NewProgressBar(errOut, source.Size(), filepath.Base(job.localPath))
	defer func() { _ = bar.Close() }()
	showProgress := ui.UploadProgressHandler(bar)

	// A session that never reported a range is restarted from byte zero.
	resume = resume && len(state.NextExpectedRanges) > 0

	opts := a.Settings.UploadOptions()
	if job.flags.sliceSize > 0 {
		opts.SliceSize = job.flags.sliceSize
	}
	opts.Logger = a.Logger
	opts.RefreshOnResume = resume

	var task *graph.UploadTask
	opts.Progress = func(p graph.UploadProgress) {
		showProgress(p)
		if p.BytesUploaded >= p.TotalBytes {
			return
		}
		state.Update(task.Session(), p.BytesUploaded)
		if err := a.Sessions.Save(state); err != nil {
			a.Logger.Warnf("could not save upload session state: %v", err)
		}
	}

	if resume {
		task, err = graph.RestoreUploadTask(a.SDK.UploadDoer(), source, state.UploadSession(), opts)
	} else {
		task, err = graph.NewUploadTask(a.SDK.UploadDoer(), source, state.UploadSession(), opts)
	}
	if err != nil {
		return nil, err
	}

	var result *graph.UploadResult
	if resume {
		_ = bar.Set64(task.Offset())
		result, err = task.Resume(ctx)
	} else {
		result, err = task.Upload(ctx)
	}
	if err != nil {
		state.Update(task.Session(), task.Offset())
	}
	return result, err
}

func finishUpload(ctx context.Context, a *app.App, out io.Writer, job uploadJob, state *session.State, result *graph.UploadResult, err error) error {
	if err != nil {
		if errors.Is(err, graph.ErrSessionExpired) {
			_ = a.Sessions.Delete(job.kind, job.localPath, job.remotePath)
			return fmt.Errorf("upload session expired; run the command again to start over: %w", err)
		}
		if saveErr := a.Sessions.Save(state); saveErr != nil {
			a.Logger.Warnf("could not save upload session state: %v", saveErr)
		}
		if ctx.Err() != nil {
			fmt.Fprintf(out, "\nUpload interrupted after %s of %s. Run the same command again to resume.\n",
				ui.FormatBytes(state.CompletedBytes), ui.FormatBytes(state.Size))
			return nil
		}
		return fmt.Errorf("uploading '%s': %w (run the same command again to resume)", job.localPath, err)
	}

	if err := a.Sessions.Delete(job.kind, job.localPath, job.remotePath); err != nil {
		a.Logger.Warnf("could not delete upload session state: %v", err)
	}
	ui.DisplayUploadResult(out, result)
	ui.Success(out, fmt.Sprintf("File '%s' uploaded successfully.", job.localPath))
	return nil
}

// discardUpload cancels the server session of state, best effort, and
// forgets it locally.
func discardUpload(ctx context.Context, a *app.App, job uploadJob, state *session.State) {
	if err := a.SDK.CancelUploadSession(ctx, state.UploadURL); err != nil && !errors.Is(err, graph.ErrResourceNotFound) {
		a.Logger.Warnf("could not cancel previous upload session: %v", err)
	}
	if err := a.Sessions.Delete(job.kind, job.localPath, job.remotePath); err != nil {
		a.Logger.Warnf("could not delete upload session state: %v", err)
	}
}

// sessionGone reports whether a resume failed because the server no longer
// knows the session.
func sessionGone(err error) bool {
	return errors.Is(err, graph.ErrSessionExpired) || errors.Is(err, graph.ErrResourceNotFound)
}

func uploadStatusLogic(ctx context.Context, a *app.App, out io.Writer, uploadURL string) error {
	if strings.TrimSpace(uploadURL) == "" {
		return fmt.Errorf("upload URL cannot be empty")
	}
	status, err := a.SDK.GetUploadSession(ctx, uploadURL)
	if err != nil {
		return err
	}
	if status.UploadURL == "" {
		status.UploadURL = uploadURL
	}
	ui.DisplayUploadSession(out, status, time.Now())
	return nil
}

func uploadCancelLogic(ctx context.Context, a *app.App, out io.Writer, uploadURL string) error {
	if strings.TrimSpace(uploadURL) == "" {
		return fmt.Errorf("upload URL cannot be empty")
	}
	if err := a.SDK.CancelUploadSession(ctx, uploadURL); err != nil {
		return err
	}
	ui.Success(out, "Upload session cancelled successfully.")
	return nil
}

// joinRemotePath joins a drive folder and a file name with forward slashes.
// The result always starts with a single slash:
//
//	joinRemotePath("/Documents", "MyFile.txt") -> "/Documents/MyFile.txt"
//	joinRemotePath("", "MyFile.txt")           -> "/MyFile.txt"
func joinRemotePath(dir, file string) string {
	if dir == "" || dir == "/" {
		return "/" + strings.TrimPrefix(file, "/")
	}
	result := strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(file, "/")
	if !strings.HasPrefix(result, "/") {
		result = "/" + result
	}
	return result
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.AddCommand(uploadAttachCmd, uploadStatusCmd, uploadCancelCmd)

	for _, c := range []*cobra.Command{uploadCmd, uploadAttachCmd} {
		c.Flags().Int64("slice-size", 0, fmt.Sprintf("Slice size in bytes, a multiple of %d (default from config)", graph.SliceAlignment))
		c.Flags().Bool("fresh", false, "Discard an interrupted upload of the same file and start over")
	}
	uploadAttachCmd.Flags().String("message-id", "", "Attach to this message instead of a new draft")
	uploadAttachCmd.Flags().String("subject", "Large attachment", "Subject of the draft message created for the attachment")
}
