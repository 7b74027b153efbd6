package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"badgerline/internal/app"
	"badgerline/internal/domain"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users and notification preferences"}
	u.AddCommand(userUpsertCmd())
	u.AddCommand(userShowCmd())
	u.AddCommand(userPrefsCmd())
	return u
}

func userUpsertCmd() *cobra.Command {
	var user domain.User
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user.ID == "" {
				user.ID = actorID()
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				saved, err := rt.Engine.UpsertUser(ctx, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&user.ID, "id", "", "user id (defaults to --actor-id)")
	cmd.Flags().StringVar(&user.Name, "name", "", "display name")
	cmd.Flags().StringVar(&user.Email, "email", "", "email address for notifications")
	return cmd
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				u, err := rt.Engine.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func userPrefsCmd() *cobra.Command {
	var frequency string
	var reminders, warnings, milestones bool
	cmd := &cobra.Command{
		Use:     "prefs <id>",
		Short:   "Update notification preferences",
		Example: "  badger user prefs bob --frequency low --milestones=false",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var updates []domain.PreferenceUpdate
			flags := cmd.Flags()
			if flags.Changed("frequency") {
				updates = append(updates, domain.WithCommunicationFrequency(domain.CommunicationFrequency(frequency)))
			}
			if flags.Changed("reminders") {
				updates = append(updates, domain.WithBadgerReminders(reminders))
			}
			if flags.Changed("deadline-warnings") {
				updates = append(updates, domain.WithDeadlineWarnings(warnings))
			}
			if flags.Changed("milestones") {
				updates = append(updates, domain.WithMilestones(milestones))
			}
			if len(updates) == 0 {
				return errors.New("nothing to update; pass at least one preference flag")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				u, err := rt.Engine.UpdatePreferences(ctx, args[0], updates...)
				if err != nil {
					return err
				}
				return printJSONOrTable(u.Preferences)
			})
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "", "communication frequency: high|medium|low")
	cmd.Flags().BoolVar(&reminders, "reminders", true, "companion reminders")
	cmd.Flags().BoolVar(&warnings, "deadline-warnings", true, "deadline warnings")
	cmd.Flags().BoolVar(&milestones, "milestones", true, "milestone celebrations")
	return cmd
}
