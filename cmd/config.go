package main

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/corebank/api/middleware"
	"github.com/blnkfinance/corebank/config"
)

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instances computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			redacted := *cfg
			redacted.Server.SecretKey = redact(cfg.Server.SecretKey)
			redacted.Server.JWTSecret = redact(cfg.Server.JWTSecret)

			data, err := json.MarshalIndent(redacted, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// tokenCommands mints bearer tokens signed with server.jwt_secret.
func tokenCommands() *cobra.Command {
	var (
		subject string
		scopes  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token for the API",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}
			if cfg.Server.JWTSecret == "" {
				log.Fatal("server.jwt_secret is not set")
			}

			token, err := middleware.IssueToken(cfg.Server.JWTSecret, subject, strings.Split(scopes, ","), ttl)
			if err != nil {
				log.Fatalf("Error signing token: %v\n", err)
			}
			fmt.Println(token)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is issued to")
	cmd.Flags().StringVar(&scopes, "scopes", "*:read", "comma separated resource:action scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
