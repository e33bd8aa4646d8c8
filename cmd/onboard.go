package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/openreply/pagegate/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfg := config.Default()

	mode := "standalone"
	port := strconv.Itoa(cfg.Server.Port)
	responderURL := ""
	sqlitePath := cfg.Database.SQLitePath
	cannedReplies := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage mode").
				Description("Standalone uses an embedded SQLite file. Managed expects Postgres via PAGEGATE_POSTGRES_DSN.").
				Options(
					huh.NewOption("Standalone (SQLite)", "standalone"),
					huh.NewOption("Managed (Postgres)", "managed"),
				).
				Value(&mode),
			huh.NewInput().
				Title("Listen port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Responder service URL").
				Placeholder("https://responder.internal/api/events").
				Value(&responderURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SQLite path").
				Description("Ignored in managed mode.").
				Value(&sqlitePath),
			huh.NewInput().
				Title("Canned reply markers (comma separated)").
				Description("Page comments containing one of these substrings are never forwarded.").
				Value(&cannedReplies),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "onboard cancelled: %v\n", err)
		os.Exit(1)
	}

	cfg.Server.Port, _ = strconv.Atoi(port)
	cfg.Dispatch.ResponderURL = responderURL
	cfg.Database.SQLitePath = sqlitePath
	for _, marker := range strings.Split(cannedReplies, ",") {
		if m := strings.TrimSpace(marker); m != "" {
			cfg.Platform.CannedReplies = append(cfg.Platform.CannedReplies, m)
		}
	}

	cfgPath := resolveConfigPath()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode config: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	fmt.Printf("\nWrote %s\n\n", cfgPath)
	fmt.Println("Secrets are read from the environment only. Before starting, export:")
	fmt.Println()
	fmt.Println("  export PAGEGATE_VERIFY_TOKEN=...    # subscription handshake token")
	fmt.Println("  export PAGEGATE_APP_SECRET=...      # event signature key (optional in dev)")
	fmt.Println("  export PAGEGATE_DISPATCH_TOKEN=...  # responder service bearer token")
	fmt.Println("  export PAGEGATE_GATEWAY_TOKEN=...   # /ws observer token (optional)")
	if mode == "managed" {
		fmt.Println("  export PAGEGATE_POSTGRES_DSN=postgres://...")
		fmt.Println()
		fmt.Println("Then apply the schema:  pagegate migrate up")
	}
	fmt.Println()
	fmt.Println("Start the gateway:  pagegate serve")
}
