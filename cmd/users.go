/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strconv"

	"github.com/prepbolt/apiserver/internal/db"
	"github.com/prepbolt/apiserver/internal/services"
	"github.com/prepbolt/apiserver/internal/store"
	"github.com/prepbolt/apiserver/types"
	"github.com/spf13/cobra"
)

var promoteRole string

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersPromoteCmd = &cobra.Command{
	Use:   "promote <user-id>",
	Short: "Change a user's role (operator by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id < 1 {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		if !types.ValidRole(promoteRole) {
			return fmt.Errorf("unknown role %q", promoteRole)
		}

		cfg, logger := setup()
		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()

		user, err := services.NewUserService(store.NewUserRepository(conn)).SetRole(cmd.Context(), id, promoteRole)
		if err != nil {
			return fmt.Errorf("promote user %d: %w", id, err)
		}
		logger.Info("user role changed", "user_id", user.ID, "username", user.Username, "role", user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersPromoteCmd.Flags().StringVar(&promoteRole, "role", types.RoleOperator, "role to assign: user, operator or admin")
	usersCmd.AddCommand(usersPromoteCmd)
}
