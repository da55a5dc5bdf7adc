package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serviceAddr string

// sessionCmd talks to a running service: sessions may live in a volatile store.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset a session on a running service",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the session state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callService(cmd.Context(), http.MethodGet, "/v1/sessions/"+url.PathEscape(args[0]))
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Return a session to its initial state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callService(cmd.Context(), http.MethodPost, "/v1/sessions/"+url.PathEscape(args[0])+"/reset")
	},
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&serviceAddr, "addr", "http://127.0.0.1:8080", "Base URL of the running service")
	sessionCmd.AddCommand(sessionShowCmd, sessionResetCmd)
}

func callService(ctx context.Context, method, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serviceAddr, "/")+path, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("call service: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("service returned %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var pretty any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		_, err = os.Stdout.Write(raw)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
