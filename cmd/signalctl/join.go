package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signalclient"
)

func newJoinCmd(root *rootOptions) *cobra.Command {
	var (
		userID string
		until  []string
	)
	cmd := &cobra.Command{
		Use:   "join <room-id>",
		Short: "Register, join a room and print every event received as a JSON line",
		Example: `  signalctl join r1 --user alice
  signalctl join r1 --user bob --until readyForCall`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			stop := make(map[protocol.EventType]bool, len(until))
			for _, t := range until {
				stop[protocol.EventType(t)] = true
			}
			return runJoin(cmd.Context(), cmd.OutOrStdout(), root, userID, args[0], stop)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to register as")
	cmd.Flags().StringSliceVar(&until, "until", nil, "exit after receiving one of these event types")
	return cmd
}

func runJoin(ctx context.Context, out io.Writer, root *rootOptions, userID, roomID string, until map[protocol.EventType]bool) error {
	wsURL, err := websocketURL(root.server)
	if err != nil {
		return err
	}
	header := http.Header{}
	if root.origin != "" {
		header.Set("Origin", root.origin)
	}

	dialCtx, cancel := context.WithTimeout(ctx, root.timeout)
	defer cancel()
	c, err := signalclient.Dial(dialCtx, wsURL, header)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Register(userID); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := c.JoinRoom(roomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	enc := json.NewEncoder(out)
	for {
		ev, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection ended: %w", err)
		}
		if err := enc.Encode(printable(ev)); err != nil {
			return err
		}
		if until[ev.Type] {
			return nil
		}
	}
}

type printedEvent struct {
	Type         protocol.EventType             `json:"type"`
	FromUserID   string                         `json:"fromUserId,omitempty"`
	RoomID       string                         `json:"roomId,omitempty"`
	Blob         json.RawMessage                `json:"blob,omitempty"`
	CallerID     string                         `json:"callerId,omitempty"`
	Disconnected *protocol.OpponentDisconnected `json:"disconnected,omitempty"`
	Error        *protocol.Error                `json:"error,omitempty"`
}

func printable(ev signalclient.Event) printedEvent {
	p := printedEvent{Type: ev.Type, CallerID: ev.CallerID, Error: ev.Err}
	switch {
	case ev.Type.IsRelay():
		p.FromUserID = ev.Relayed.FromUserID
		p.RoomID = ev.Relayed.RoomID
		p.Blob = ev.Relayed.Blob
	case ev.Type == protocol.EventCallEnd:
		p.FromUserID = ev.FromUserID
	case ev.Type == protocol.EventOpponentDisconnected:
		d := ev.Disconnected
		p.Disconnected = &d
	}
	return p
}

// websocketURL maps a server base URL onto its /ws endpoint. A URL that
// already has a path is used as-is.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid --server: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid --server scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
