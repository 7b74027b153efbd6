package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"badgerline/internal/app"
	"badgerline/internal/config"
	"badgerline/internal/db"
	"badgerline/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "badger",
	Short: "Badgerline CLI",
	Long: `Badgerline runs task-gated reward deliveries.
Core concepts:
- Delivery: a reward a sender gifts to a recipient, unlocked by finishing a task.
- Task: requirements (steps, minutes, photos, text...) checked against submitted evidence.
- Lifecycle: created -> sent -> received -> in-progress -> awaiting-verification -> completed; expired and cancelled are exits.
- Companion: the badger that chats in every delivery and nudges the recipient.
- Sweeps: reminders, deadline warnings and expirations, run by 'badger serve' or 'badger sweep'.
- Event log: every change is recorded, view with 'badger log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// .env never overrides variables already set in the environment.
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("badger: load %s: %v", envFile, err)
	}
	viper.SetEnvPrefix("BADGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("openai-api-key", "OPENAI_API_KEY")
	_ = viper.BindEnv("sendgrid-api-key", "SENDGRID_API_KEY")
	_ = viper.BindEnv("influx-token", "INFLUX_TOKEN")
	_ = viper.BindEnv("aws-access-key-id", "AWS_ACCESS_KEY_ID")
	_ = viper.BindEnv("aws-secret-access-key", "AWS_SECRET_ACCESS_KEY")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(deliveryCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(fitnessCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func secrets() app.Secrets {
	return app.Secrets{
		OpenAIKey:          viper.GetString("openai-api-key"),
		SendGridKey:        viper.GetString("sendgrid-api-key"),
		InfluxToken:        viper.GetString("influx-token"),
		AWSAccessKeyID:     viper.GetString("aws-access-key-id"),
		AWSSecretAccessKey: viper.GetString("aws-secret-access-key"),
		WebhookSecret:      viper.GetString("webhook-secret"),
	}
}

// withRuntime opens the workspace database, loads badger.yml (defaults when
// absent) and wires the engine and scheduler.
func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	rt, err := app.Build(ctx, conn, cfg, secrets(), nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
