package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/openreply/pagegate/internal/broadcast"
	"github.com/openreply/pagegate/internal/config"
)

func tailCmd() *cobra.Command {
	var addr string
	var tenantID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live pipeline events for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			return runTail(addr, tenantID, cfg.Server.Token)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default: from config)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id to observe")
	return cmd
}

func runTail(addr, tenantID, token string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wsURL := fmt.Sprintf("ws://%s/ws?tenant=%s", addr, url.QueryEscape(tenantID))

	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	fmt.Fprintf(os.Stderr, "tailing tenant %s on %s (Ctrl-C to stop)\n", tenantID, addr)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var frame broadcast.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), string(data))
			continue
		}
		payload, _ := json.Marshal(frame.Payload)
		fmt.Printf("%s  %-24s %s\n", time.Now().Format(time.TimeOnly), frame.Name, string(payload))
	}
}
