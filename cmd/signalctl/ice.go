package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

func newICECmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ice",
		Short: "Fetch the ICE server list served at /webrtc/ice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runICE(cmd.Context(), cmd.OutOrStdout(), root)
		},
	}
}

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func runICE(ctx context.Context, out io.Writer, root *rootOptions) error {
	endpoint, err := iceURL(root.server)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, root.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if root.origin != "" {
		req.Header.Set("Origin", root.origin)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch ICE servers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("fetch ICE servers: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload iceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode ICE servers: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func iceURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid --server: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid --server scheme %q", u.Scheme)
	}
	u.Path = "/webrtc/ice"
	u.RawQuery = ""
	return u.String(), nil
}
