package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/voice-analysis/api"
	"github.com/mrsingh-rishi/voice-analysis/model"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			printError("failed to load configuration", err)
			return err
		}
		auth, err := api.NewAuthenticator(cfg.Server.JWTSecret)
		if err != nil {
			return err
		}
		p := model.Principal{UserID: args[0], Role: model.Role(tokenRole), ParentID: parentID}
		tok, err := auth.Sign(p, time.Now().Add(tokenTTL).Unix())
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(model.RoleDependent), "dependent, guardian or admin")
	tokenCmd.Flags().StringVar(&parentID, "parent", "", "guardian id of a dependent")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
