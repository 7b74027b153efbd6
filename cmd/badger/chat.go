package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"badgerline/internal/app"
	"badgerline/internal/domain"
	"badgerline/internal/engine"
)

func chatCmd() *cobra.Command {
	c := &cobra.Command{Use: "chat", Short: "Delivery chat timeline"}
	c.AddCommand(chatSendCmd())
	c.AddCommand(chatReadCmd())
	c.AddCommand(chatStatsCmd())
	return c
}

func chatSendCmd() *cobra.Command {
	var reply bool
	var msgType string
	cmd := &cobra.Command{
		Use:   "send <id> <message>",
		Short: "Post a message to a delivery chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.AppendChatRequest{
				DeliveryID: args[0],
				SenderID:   actorID(),
				Content:    args[1],
				Type:       domain.MessageType(msgType),
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var msgs []domain.ChatMessage
				if reply {
					out, err := rt.Engine.Converse(ctx, req)
					if err != nil {
						return err
					}
					msgs = out
				} else {
					m, err := rt.Engine.AppendChat(ctx, req)
					if err != nil {
						return err
					}
					msgs = []domain.ChatMessage{m}
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				renderChat(msgs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reply, "reply", false, "ask the companion to answer")
	cmd.Flags().StringVar(&msgType, "type", "text", "message type: text|image|audio")
	return cmd
}

func chatReadCmd() *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Read one page of a delivery chat (page 1 is the most recent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.ReadChat(ctx, args[0], page, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				renderChat(p.Messages)
				if p.HasMore {
					fmt.Printf("older messages: badger chat read %s --page %d\n", args[0], p.Page+1)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "messages per page (config default when 0)")
	return cmd
}

func chatStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <id>",
		Short: "Show chat engagement analytics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.ChatAnalytics(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Messages", "From participants", "Avg response", "Per day", "Engagement"})
				tw.AppendRow(table.Row{
					a.MessageCount,
					a.ParticipantMessageCount,
					(time.Duration(a.AverageResponseTimeSeconds) * time.Second).String(),
					fmt.Sprintf("%.1f", a.MessagesPerDay),
					a.EngagementLevel,
				})
				tw.Render()
				return nil
			})
		},
	}
}

func renderChat(msgs []domain.ChatMessage) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Time", "From", "Type", "Message"})
	for _, m := range msgs {
		tw.AppendRow(table.Row{m.Timestamp.Format(time.RFC3339), m.SenderID, m.Type, m.Content})
	}
	tw.Render()
}
