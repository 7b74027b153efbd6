package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"badgerline/internal/app"
	"badgerline/internal/domain"
	"badgerline/internal/engine"
	"badgerline/internal/repo"
	"badgerline/internal/storage"
)

func deliveryCmd() *cobra.Command {
	d := &cobra.Command{Use: "delivery", Short: "Manage deliveries"}
	d.AddCommand(deliveryCreateCmd())
	d.AddCommand(deliveryListCmd())
	d.AddCommand(deliveryShowCmd())
	d.AddCommand(deliveryStatusCmd())
	d.AddCommand(deliveryExpireCmd())
	d.AddCommand(deliveryRedeemCmd())
	return d
}

func deliveryCreateCmd() *cobra.Command {
	var opts engine.CreateDeliveryOptions
	var taskType, verify, deadline, rewardValue, expiresIn string
	var style, frequency, tone string
	var requires []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and send a delivery",
		Example: `  badger delivery create --actor-id alice --recipient bob --type fitness \
    --require step-count:10000:steps --verify automatic --reward-type coffee --reward-value 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.SenderID = actorID()
			opts.Task.Type = domain.TaskType(taskType)
			opts.Task.VerificationMethod = domain.VerificationMethod(verify)
			for _, raw := range requires {
				req, err := parseRequirement(raw)
				if err != nil {
					return err
				}
				opts.Task.Requirements = append(opts.Task.Requirements, req)
			}
			if deadline != "" {
				t, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("--deadline must be RFC3339: %w", err)
				}
				opts.Task.Deadline = &t
			}
			if rewardValue != "" {
				opts.Reward.Value = parseValue(rewardValue)
			}
			if expiresIn != "" {
				d, err := time.ParseDuration(expiresIn)
				if err != nil {
					return fmt.Errorf("--expires-in: %w", err)
				}
				at := time.Now().UTC().Add(d)
				opts.ExpiresAt = &at
			}
			opts.Personality = domain.Personality{
				MotivationStyle:        domain.MotivationStyle(style),
				CommunicationFrequency: domain.CommunicationFrequency(frequency),
				ReminderTone:           domain.ReminderTone(tone),
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.CreateDelivery(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "delivery id (generated when empty)")
	cmd.Flags().StringVar(&opts.RecipientID, "recipient", "", "recipient user id")
	cmd.Flags().StringVar(&taskType, "type", "custom", "task type: fitness|habit|learning|creative|chore|custom")
	cmd.Flags().StringVar(&opts.Task.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Task.Description, "description", "", "task description")
	cmd.Flags().StringArrayVar(&requires, "require", nil, "requirement as type[:target[:unit]] (repeatable)")
	cmd.Flags().StringVar(&verify, "verify", "manual", "verification method")
	cmd.Flags().StringVar(&deadline, "deadline", "", "task deadline (RFC3339)")
	cmd.Flags().StringVar(&opts.Reward.Type, "reward-type", "", "reward type")
	cmd.Flags().StringVar(&rewardValue, "reward-value", "", "reward value (number or text)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "expire the delivery after this duration")
	cmd.Flags().StringVar(&style, "style", "", "motivation style")
	cmd.Flags().StringVar(&frequency, "frequency", "", "communication frequency")
	cmd.Flags().StringVar(&tone, "tone", "", "reminder tone")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("reward-type")
	return cmd
}

func deliveryListCmd() *cobra.Command {
	var role, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.DeliveryFilters{Limit: limit}
			switch role {
			case "sender":
				f.SenderID = actorID()
			case "recipient":
				f.RecipientID = actorID()
			case "any":
				f.Participant = actorID()
			case "":
			default:
				return fmt.Errorf("--role must be sender, recipient or any")
			}
			for _, s := range strings.Split(status, ",") {
				if s = strings.TrimSpace(s); s != "" {
					f.Statuses = append(f.Statuses, domain.Status(s))
				}
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListDeliveries(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Sender", "Recipient", "Task", "Status", "Progress", "Updated"})
				for _, d := range items {
					tw.AppendRow(table.Row{
						d.ID, d.SenderID, d.RecipientID, d.Task.Type, d.Status,
						fmt.Sprintf("%d%%", d.Task.Progress.Percentage),
						d.UpdatedAt.Format(time.RFC3339),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by the actor's role: sender|recipient|any")
	cmd.Flags().StringVar(&status, "status", "", "comma-separated status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func deliveryShowCmd() *cobra.Command {
	var view bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a delivery with its chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var d domain.Delivery
				var err error
				if view {
					d, err = rt.Engine.ViewDelivery(ctx, args[0], actorID())
				} else {
					d, err = rt.Engine.GetDelivery(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().BoolVar(&view, "view", false, "view as the actor; the recipient's first view marks it received")
	return cmd
}

func deliveryStatusCmd() *cobra.Command {
	var ifVersion int64
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Request a status change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.Transition(ctx, engine.TransitionRequest{
					DeliveryID: args[0],
					Status:     domain.Status(args[1]),
					ActorID:    actorID(),
					IfVersion:  ifVersion,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "fail unless the delivery is at this version")
	return cmd
}

func deliveryExpireCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "expire <id>",
		Short: "Force-expire a delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.ForceExpire(ctx, args[0], reason, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "expired by operator", "reason recorded in the log and chat")
	return cmd
}

func deliveryRedeemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <id>",
		Short: "Confirm the reward of a completed delivery was redeemed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.ConfirmRedemption(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d.Reward)
			})
		},
	}
}

func submitCmd() *cobra.Command {
	var texts, files, data []string
	var ifVersion int64
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit evidence as the recipient",
		Example: `  badger submit d-123 --actor-id bob --text "done" --file sketch.png --data step-count=8200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.SubmitRequest{DeliveryID: args[0], ActorID: actorID(), IfVersion: ifVersion}
			for _, t := range texts {
				req.Submissions = append(req.Submissions, domain.Submission{Type: domain.SubmissionText, Content: t})
			}
			for _, kv := range data {
				name, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--data must be requirement=value, got %q", kv)
				}
				req.Submissions = append(req.Submissions, domain.Submission{
					Type:     domain.SubmissionData,
					Content:  value,
					Metadata: map[string]string{domain.MetadataRequirement: name},
				})
			}
			for _, p := range files {
				f, err := readFile(p)
				if err != nil {
					return err
				}
				req.Files = append(req.Files, f)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Submit(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %s, %d%% (%s)\n", res.Delivery.ID, res.Delivery.Status, res.Progress.Percentage, res.Progress.VerificationStatus)
				for _, name := range res.FailedUploads {
					fmt.Printf("upload failed: %s\n", name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&texts, "text", nil, "text evidence (repeatable)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "photo or video file (repeatable)")
	cmd.Flags().StringArrayVar(&data, "data", nil, "numeric evidence as requirement=value (repeatable)")
	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "fail unless the delivery is at this version")
	return cmd
}

func fitnessCmd() *cobra.Command {
	f := &cobra.Command{Use: "fitness", Short: "Fitness tracker integration"}
	f.AddCommand(&cobra.Command{
		Use:   "sync <id>",
		Short: "Pull a fitness snapshot and re-evaluate progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.SyncFitness(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Degraded {
					fmt.Println("fitness source unavailable; showing last stored snapshot")
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Steps", "Exercise min", "Distance", "Calories", "Progress", "Status"})
				s := res.Snapshot
				tw.AppendRow(table.Row{s.Steps, s.ExerciseMinutes, s.Distance, s.Calories, fmt.Sprintf("%d%%", res.Progress.Percentage), res.Delivery.Status})
				tw.Render()
				return nil
			})
		},
	})
	return f
}

func parseRequirement(raw string) (domain.Requirement, error) {
	parts := strings.SplitN(raw, ":", 3)
	if parts[0] == "" {
		return domain.Requirement{}, fmt.Errorf("--require needs a type, got %q", raw)
	}
	req := domain.Requirement{Type: domain.RequirementType(parts[0])}
	if len(parts) > 1 && parts[1] != "" {
		req.Target = parseValue(parts[1])
	}
	if len(parts) > 2 {
		req.Unit = parts[2]
	}
	return req, nil
}

func parseValue(s string) domain.Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return domain.Numeric(f)
	}
	return domain.Textual(s)
}

func readFile(path string) (storage.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return storage.File{}, err
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return storage.File{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}
