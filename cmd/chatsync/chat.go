package main

import (
	"bufio"
	"context"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"ChatSync/module/chat/model"
	"ChatSync/module/chat/msgsync"
	"ChatSync/module/notify"
	"ChatSync/service/api"
	"ChatSync/service/session"
	"ChatSync/tools/errs"

	"github.com/spf13/cobra"
)

var chatConversation int64

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open a conversation and chat from the terminal",
	Long: `Lines typed are sent as messages. Commands:
  /typing            signal that you are typing
  /attach <file> [text]
  /retry <n>         resend failed message #n
  /discard <n>       drop failed message #n
  /reload            rebuild the session
  /quit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Int64VarP(&chatConversation, "conversation", "c", 0, "conversation id")
	_ = chatCmd.MarkFlagRequired("conversation")
}

func startSession(cmd *cobra.Command) (*session.Session, *termRenderer, context.Context, context.CancelFunc, error) {
	if cfg.Token == "" {
		return nil, nil, nil, nil, errs.ErrTokenInvalid.WrapMsg("no token, run chatsync login first")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	r := newTermRenderer(cmd.OutOrStdout(), cfg.UserID, cfg.Reconnect.ReloadDelay, cfg.Reconnect.Policy)
	sess := session.New(cfg, api.New(cfg), r, session.Options{Native: nativeNotifier()})
	if err := sess.Start(ctx); err != nil {
		stop()
		return nil, nil, nil, nil, err
	}
	return sess, r, ctx, stop, nil
}

func nativeNotifier() notify.Native {
	if !cfg.Notify.Native {
		return nil
	}
	return notify.NewDesktopNotifier(cfg.Toast.Lifetime)
}

func runChat(cmd *cobra.Command, args []string) error {
	sess, r, ctx, stop, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer sess.Stop()

	if _, err := sess.Open(chatConversation); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(sess, r, chatConversation, l); quit {
				return nil
			}
		}
	}
}

// handleLine runs one line of input; it reports whether the user asked to quit.
func handleLine(sess *session.Session, r *termRenderer, convID int64, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if line == "/quit" {
		return true
	}
	if line == "/reload" {
		sess.Reload()
		return false
	}
	// looked up per line: a reload replaces the view
	v, ok := sess.View(convID)
	if !ok {
		r.printf("conversation %d is not open", convID)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case "/typing":
		v.Keystroke()
	case "/retry":
		var h msgsync.Handle
		if h, err = parseHandle(rest); err == nil {
			_, err = v.Retry(h)
		}
	case "/discard":
		var h msgsync.Handle
		if h, err = parseHandle(rest); err == nil {
			err = v.Discard(h)
		}
	case "/attach":
		var d model.Draft
		if d, err = attachment(rest); err == nil {
			_, err = v.Send(d)
		}
	default:
		_, err = v.Send(model.Draft{Content: line})
	}
	if err != nil {
		r.printf("error: %v", err)
	}
	return false
}

// parseHandle reads the "#n" shown next to a failed message.
func parseHandle(s string) (msgsync.Handle, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || n <= 0 {
		return 0, errs.ErrArgs.WrapMsg("expected a message number", "input", s)
	}
	return msgsync.Handle(-n), nil
}

func attachment(rest string) (model.Draft, error) {
	path, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if path == "" {
		return model.Draft{}, errs.ErrArgs.WrapMsg("usage: /attach <file> [text]")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Draft{}, errs.WrapMsg(err, "read attachment", "path", path)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return model.Draft{
		Content: text,
		Media:   &model.Attachment{Filename: filepath.Base(path), ContentType: ct, Data: data},
	}, nil
}
