package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/utils"
)

func issueTokenCommand() *cobra.Command {
	var (
		subject string
		portal  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a portal identity token for a subject",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := model.ParsePortalType(portal)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			tok, err := utils.NewPortalToken(cfg.Secret(), subject, string(p), ttl)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tok)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject, e.g. SEVA001")
	cmd.Flags().StringVar(&portal, "portal", "", "devotee, seva, management or pilgrimage")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, TOKEN_TTL when zero")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("portal")
	return cmd
}
