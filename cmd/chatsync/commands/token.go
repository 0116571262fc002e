package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatsync/chatsync/internal/config"
	"github.com/chatsync/chatsync/internal/ws"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <userID>",
	Short: "Mint a development bearer token",
	Long: `Mint a token signed with the configured jwtSecret, for connecting
test clients. Production token issuance belongs to your auth service;
this exists for local development only.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "chatsync-dev-secret"
	}

	token, err := ws.NewTokenVerifier(cfg.JWTSecret).Sign(args[0], tokenTTL)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
