package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"foodshare-chat/internal/chatclient"
	"foodshare-chat/internal/models"
	"foodshare-chat/internal/types"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	server string
	user   string
	role   string
	token  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Talk to a foodshare chat server from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.server, "server", "s", "http://localhost:8080", "Chat server base URL")
	root.PersistentFlags().StringVarP(&g.user, "user", "u", "", "Identity to connect as")
	root.PersistentFlags().StringVar(&g.role, "role", "guest", "Role: donor, receiver, volunteer or guest")
	root.PersistentFlags().StringVar(&g.token, "token", "", "Signed handshake token (overrides --user on the server)")

	root.AddCommand(newListenCmd(g), newSendCmd(g), newHistoryCmd(g))
	return root
}

func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bad --server: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bad --server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (g *globalFlags) dial(ctx context.Context) (*chatclient.Controller, error) {
	wsURL, err := socketURL(g.server)
	if err != nil {
		return nil, err
	}
	return chatclient.Dial(ctx, wsURL, chatclient.Options{UserID: g.user, Role: g.role, Token: g.token})
}

func newListenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print live events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := g.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			return listen(ctx, c.Events(), cmd.OutOrStdout())
		},
	}
}

func listen(ctx context.Context, events <-chan types.Envelope, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, formatEvent(env))
		}
	}
}

func formatMessage(v types.MessageView) string {
	where := "#global"
	if v.IsPrivate {
		where = "@" + v.OtherUser
	}
	line := fmt.Sprintf("[%s] %s %s: %s", v.Timestamp, where, v.Sender, v.Body)
	if v.Attachment != nil {
		line += fmt.Sprintf(" (%s: %s)", v.Kind, v.Attachment.URL)
	}
	if v.Read {
		line += " ✓✓"
	}
	return line
}

func formatEvent(env types.Envelope) string {
	switch env.Type {
	case types.EventChatMessage, types.EventPrivateMessage:
		var v types.MessageView
		if err := json.Unmarshal(env.Payload, &v); err == nil {
			return formatMessage(v)
		}
	case types.EventOnlineUsers:
		var list []types.PresenceView
		if err := json.Unmarshal(env.Payload, &list); err == nil {
			names := make([]string, 0, len(list))
			for _, p := range list {
				names = append(names, fmt.Sprintf("%s(%s)", p.Name, p.Role))
			}
			return "online: " + strings.Join(names, ", ")
		}
	case types.EventTyping, types.EventStopTyping:
		var ev types.TypingEvent
		if err := json.Unmarshal(env.Payload, &ev); err == nil {
			if env.Type == types.EventTyping {
				return ev.From + " is typing..."
			}
			return ev.From + " stopped typing"
		}
	case types.EventMessageRead:
		var r types.ReadReceipt
		if err := json.Unmarshal(env.Payload, &r); err == nil {
			return fmt.Sprintf("%s read %s", r.ReaderIdentity, r.MessageID)
		}
	case types.EventSystem:
		var n types.SystemNotice
		if err := json.Unmarshal(env.Payload, &n); err == nil {
			return "system: " + n.Content
		}
	}
	return fmt.Sprintf("%s %s", env.Type, env.Payload)
}

func newSendCmd(g *globalFlags) *cobra.Command {
	var to, kind, attachment string

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message and wait for the server echo",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := chatclient.Draft{Kind: models.MessageKind(kind)}
			if len(args) == 1 {
				d.Body = args[0]
			}
			if attachment != "" {
				d.Attachment = &models.Attachment{URL: attachment}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c, err := g.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			v, err := send(ctx, c, to, d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage(v))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Recipient identity; empty posts to the global channel")
	cmd.Flags().StringVar(&kind, "kind", "text", "Message kind: text, image, video or file")
	cmd.Flags().StringVar(&attachment, "attachment", "", "Attachment URL for non-text messages")
	return cmd
}

func send(ctx context.Context, c *chatclient.Controller, to string, d chatclient.Draft) (types.MessageView, error) {
	var (
		ref string
		err error
	)
	key := models.GlobalRoom
	if to == "" || to == models.GlobalRoom {
		ref, err = c.SendGlobal(d)
	} else {
		key = to
		ref, err = c.SendPrivate(to, d)
	}
	if err != nil {
		return types.MessageView{}, err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, e := range c.Thread(key) {
			if e.ClientRef == ref && !e.Pending {
				return e.MessageView, nil
			}
		}
		select {
		case <-ctx.Done():
			return types.MessageView{}, fmt.Errorf("no echo from server: %w", ctx.Err())
		case <-c.Done():
			if err := c.Err(); err != nil {
				return types.MessageView{}, err
			}
			return types.MessageView{}, chatclient.ErrClosed
		case <-ticker.C:
		}
	}
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var with, search string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a stored thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			if with != "" && g.user == "" {
				return fmt.Errorf("--user is required with --with")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			views, err := chatclient.History(ctx, nil, g.server, g.user, with, search)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			for _, v := range views {
				fmt.Fprintln(out, formatMessage(v))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&with, "with", "", "Other participant; empty shows the global channel")
	cmd.Flags().StringVar(&search, "search", "", "Case-insensitive body filter")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}
