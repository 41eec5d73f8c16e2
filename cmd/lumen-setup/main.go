// ABOUTME: Provisioning tool for the lumen backend schema
// ABOUTME: Creates the database, collections, attributes, and uniqueness indexes

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/lumen-chat/lumen/internal/backend"
	"github.com/lumen-chat/lumen/internal/chat"
	"github.com/lumen-chat/lumen/internal/config"
)

func getConfigPath() string {
	if envPath := os.Getenv("LUMEN_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "lumen.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "lumen", "lumen.yaml")
}

func main() {
	configPath := flag.String("config", getConfigPath(), "Path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Backend.APIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: backend.api_key is required for provisioning")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := backend.New(cfg.Backend.Endpoint, cfg.Backend.Project,
		backend.WithDatabase(cfg.Backend.Database),
		backend.WithAPIKey(cfg.Backend.APIKey),
	)

	if err := provision(ctx, client, cfg.Backend.Collections); err != nil {
		color.Red("setup failed: %v", err)
		os.Exit(1)
	}
	color.Green("setup completed successfully")
}

// provision creates the chat schema. Existing objects are reported and
// skipped so the tool can be re-run safely.
func provision(ctx context.Context, client *backend.Client, cols config.CollectionsConfig) error {
	cyan := color.New(color.FgCyan)

	cyan.Println("database")
	if err := ensure(client.CreateDatabase(ctx, "Lumen Chat")); err != nil {
		return err
	}

	cyan.Println("collection: " + cols.Identities)
	if err := ensure(client.CreateCollection(ctx, cols.Identities, "Identities")); err != nil {
		return err
	}
	identityAttrs := []backend.Attribute{
		{Key: chat.FieldAccountID, Type: "string", Required: true},
		{Key: chat.FieldName, Type: "string", Required: true},
		{Key: chat.FieldEmail, Type: "string", Required: true},
		{Key: chat.FieldOnline, Type: "boolean", Required: true, Default: false},
		{Key: chat.FieldLastActive, Type: "datetime"},
	}
	for _, attr := range identityAttrs {
		if err := ensure(client.CreateAttribute(ctx, cols.Identities, attr)); err != nil {
			return err
		}
	}

	cyan.Println("collection: " + cols.Conversations)
	if err := ensure(client.CreateCollection(ctx, cols.Conversations, "Conversations")); err != nil {
		return err
	}
	conversationAttrs := []backend.Attribute{
		{Key: chat.FieldParticipants, Type: "string", Required: true, Array: true},
		{Key: chat.FieldPair, Type: "string", Required: true},
		{Key: chat.FieldCreatedAt, Type: "datetime", Required: true},
		{Key: chat.FieldUpdatedAt, Type: "datetime", Required: true},
		{Key: chat.FieldLastMessage, Type: "string"},
		{Key: chat.FieldLastMessageAt, Type: "datetime"},
	}
	for _, attr := range conversationAttrs {
		if err := ensure(client.CreateAttribute(ctx, cols.Conversations, attr)); err != nil {
			return err
		}
	}

	cyan.Println("collection: " + cols.Messages)
	if err := ensure(client.CreateCollection(ctx, cols.Messages, "Messages")); err != nil {
		return err
	}
	messageAttrs := []backend.Attribute{
		{Key: chat.FieldConversationID, Type: "string", Required: true},
		{Key: chat.FieldSenderID, Type: "string", Required: true},
		{Key: chat.FieldContent, Type: "string", Required: true},
		{Key: chat.FieldCreatedAt, Type: "datetime", Required: true},
		{Key: chat.FieldIsRead, Type: "boolean", Required: true, Default: false},
	}
	for _, attr := range messageAttrs {
		if err := ensure(client.CreateAttribute(ctx, cols.Messages, attr)); err != nil {
			return err
		}
	}

	cyan.Println("indexes")
	indexes := []struct {
		collection string
		index      backend.Index
	}{
		{cols.Identities, backend.Index{Key: "account_id_unique", Type: "unique", Attributes: []string{chat.FieldAccountID}}},
		{cols.Conversations, backend.Index{Key: "participants_key", Type: "key", Attributes: []string{chat.FieldParticipants}}},
		// One conversation per unordered participant pair, enforced server-side.
		{cols.Conversations, backend.Index{Key: "pair_unique", Type: "unique", Attributes: []string{chat.FieldPair}}},
		{cols.Messages, backend.Index{Key: "conversation_created", Type: "key", Attributes: []string{chat.FieldConversationID, chat.FieldCreatedAt}}},
	}
	for _, ix := range indexes {
		if err := ensure(client.CreateIndex(ctx, ix.collection, ix.index)); err != nil {
			return err
		}
	}

	return nil
}

// ensure treats a validation/conflict error as "already provisioned".
func ensure(err error) error {
	switch {
	case err == nil:
		color.Green("  ok")
		return nil
	case backend.IsValidation(err):
		color.Yellow("  exists, skipping")
		return nil
	default:
		return err
	}
}
