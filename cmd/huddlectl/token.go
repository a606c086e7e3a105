package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lalith-99/huddle/internal/auth"
	"github.com/lalith-99/huddle/internal/config"
	"github.com/lalith-99/huddle/internal/models"
)

type tokenOptions struct {
	userID string
	name   string
	role   string
	level  string
	ttl    time.Duration
	secret string
}

func newTokenCmd() *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		Long: `Issue a signed access token without a password, for local
development and load tests.

Example:
  huddlectl token --user 5f0c... --name "Ana" --role teacher`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := opts.issue()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.userID, "user", "", "user id (required)")
	f.StringVar(&opts.name, "name", "", "display name")
	f.StringVar(&opts.role, "role", "student", "role: student, teacher or admin")
	f.StringVar(&opts.level, "level", "", "level label")
	f.DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	f.StringVar(&opts.secret, "secret", "", "signing secret (default JWT_SECRET)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (o *tokenOptions) issue() (string, error) {
	id, err := uuid.Parse(o.userID)
	if err != nil {
		return "", fmt.Errorf("--user: %w", err)
	}
	switch o.role {
	case "student", "teacher", "admin":
	default:
		return "", fmt.Errorf("--role must be student, teacher or admin, got %q", o.role)
	}
	if o.ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}

	secret := o.secret
	if secret == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		secret = cfg.JWTSecret
	}

	return auth.GenerateToken(&models.User{
		ID:          id,
		DisplayName: o.name,
		Role:        o.role,
		Level:       o.level,
	}, secret, o.ttl)
}
