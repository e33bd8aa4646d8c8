package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/openreply/pagegate/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("pagegate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env only)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Secrets
	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("Verify token", cfg.Platform.VerifyToken, true)
	checkSecret("App secret", cfg.Platform.AppSecret, false)
	checkSecret("Dispatch token", cfg.Dispatch.Token, false)
	checkSecret("Gateway token", cfg.Server.Token, false)

	// Responder
	fmt.Println()
	fmt.Println("  Dispatch:")
	if cfg.Dispatch.ResponderURL == "" {
		fmt.Printf("    %-16s NOT SET (items cannot be forwarded)\n", "Responder URL:")
	} else {
		fmt.Printf("    %-16s %s\n", "Responder URL:", cfg.Dispatch.ResponderURL)
	}

	// Database
	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.PostgresDSN != "" {
		fmt.Printf("    %-16s managed (Postgres)\n", "Mode:")
		db, dbErr := sql.Open("pgx", cfg.Database.PostgresDSN)
		if dbErr != nil {
			fmt.Printf("    %-16s CONNECT FAILED (%s)\n", "Status:", dbErr)
			return
		}
		defer db.Close()
		if pingErr := db.Ping(); pingErr != nil {
			fmt.Printf("    %-16s CONNECT FAILED (%s)\n", "Status:", pingErr)
			return
		}
		fmt.Printf("    %-16s OK\n", "Status:")

		var n int
		if err := db.QueryRow("SELECT count(*) FROM tenants").Scan(&n); err != nil {
			fmt.Printf("    %-16s MISSING (run: pagegate migrate up)\n", "Schema:")
		} else {
			fmt.Printf("    %-16s OK (%d tenants)\n", "Schema:", n)
		}
	} else {
		fmt.Printf("    %-16s standalone (SQLite)\n", "Mode:")
		fmt.Printf("    %-16s %s", "Path:", cfg.Database.SQLitePath)
		if _, err := os.Stat(cfg.Database.SQLitePath); err != nil {
			fmt.Println(" (will be created on first run)")
		} else {
			fmt.Println(" (OK)")
		}
	}
}

func checkSecret(label, value string, required bool) {
	switch {
	case value != "":
		fmt.Printf("    %-16s set\n", label+":")
	case required:
		fmt.Printf("    %-16s NOT SET (handshake will fail)\n", label+":")
	default:
		fmt.Printf("    %-16s not set\n", label+":")
	}
}
