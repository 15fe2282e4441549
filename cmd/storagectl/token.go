package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go-file-engine/internal/service"
)

func newTokenCmd(opts *rootOpts) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Mint an API access token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.newEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			if engine.Config.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required to sign tokens")
			}

			token, expires, err := engine.Tokens.IssueToken(args[0], role)
			if err != nil {
				return err
			}

			if opts.asJSON {
				return opts.printJSON(map[string]string{
					"access_token": token,
					"expires_at":   expires.Format(time.RFC3339),
				})
			}
			_, err = fmt.Fprintln(opts.out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", service.RoleViewer, "viewer|editor|admin")
	return cmd
}
