package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/repository/postgres"
	"github.com/lalith-99/huddle/internal/service"
)

func newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage channels",
	}
	cmd.AddCommand(newChannelCreateCmd())
	return cmd
}

func newChannelCreateCmd() *cobra.Command {
	var (
		name    string
		owner   string
		members []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a channel owned by a user",
		Long: `Create a channel and add its members. The owner must be an
existing user.

Example:
  huddlectl channel create --name "Spanish B1" --owner <id> --member <id> --member <id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("--owner: %w", err)
			}
			memberIDs, err := parseIDs(members)
			if err != nil {
				return fmt.Errorf("--member: %w", err)
			}

			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			ctx := cmd.Context()
			database, err := e.database(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			pool := database.Pool()
			user, err := postgres.NewUserStore(pool).GetByID(ctx, ownerID)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("owner %s not found", ownerID)
			}

			channels := service.NewChannelService(postgres.NewChannelStore(pool), postgres.NewMembershipStore(pool), e.logger)
			ch, err := channels.Create(ctx, models.Actor{
				UserID: user.ID,
				Name:   user.DisplayName,
				Role:   user.Role,
				Level:  user.Level,
			}, name, memberIDs)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ch)
		},
	}

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "channel name (required)")
	f.StringVar(&owner, "owner", "", "owner user id (required)")
	f.StringSliceVar(&members, "member", nil, "member user id, repeatable")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
