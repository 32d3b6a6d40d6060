package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/entitlement"
	"scribe/internal/logging"
	"scribe/internal/queue"
)

func newUsersCommand(ctx *commandContext) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect accounts and change plans",
	}
	usersCmd.AddCommand(newUsersListCommand(ctx))
	usersCmd.AddCommand(newUsersSetPlanCommand(ctx))
	return usersCmd
}

func newUsersListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts with their plan and remaining quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				users, err := store.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				ledger := entitlement.New(cfg, store, logging.NewNop())
				views := make([]api.User, 0, len(users))
				for _, user := range users {
					usage, err := ledger.Usage(cmd.Context(), user.ID)
					if err != nil {
						return err
					}
					views = append(views, api.FromUser(user, usage))
				}
				if asJSON {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No users")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for i, view := range views {
					remaining := "unlimited"
					if view.Remaining != nil {
						remaining = fmt.Sprintf("%d/%d", *view.Remaining, *view.DailyLimit)
					}
					rows = append(rows, []string{
						strconv.FormatInt(view.ID, 10),
						view.Email,
						view.Plan,
						remaining,
						humanize.Time(users[i].CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
					{title: "ID", numeric: true},
					{title: "Email"},
					{title: "Plan"},
					{title: "Remaining", numeric: true},
					{title: "Joined"},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newUsersSetPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-plan <email> <free|paid>",
		Short: "Change an account's plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, ok := queue.ParsePlan(args[1])
			if !ok {
				return fmt.Errorf("unknown plan %q; use free or paid", args[1])
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				user, err := store.SetPlan(cmd.Context(), args[0], plan)
				if err != nil {
					return err
				}
				if user == nil {
					return fmt.Errorf("no user with email %q", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now on the %s plan\n", user.Email, user.Plan)
				return nil
			})
		},
	}
}
