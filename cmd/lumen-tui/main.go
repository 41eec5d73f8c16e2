// ABOUTME: Interactive terminal client for lumen two-party chat
// ABOUTME: Readline-style input over the sync engine with live incoming messages

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/lumen-chat/lumen/internal/backend"
	"github.com/lumen-chat/lumen/internal/chat"
	"github.com/lumen-chat/lumen/internal/config"
	"github.com/lumen-chat/lumen/internal/session"
)

// getConfigPath returns the path to the lumen config file.
// Priority: LUMEN_CONFIG env var > XDG_CONFIG_HOME/lumen/lumen.yaml > ~/.config/lumen/lumen.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LUMEN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "lumen.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "lumen", "lumen.yaml")
}

func main() {
	configPath := flag.String("config", getConfigPath(), "Path to config file")
	flag.Parse()

	// Local .env first, so ${VAR} references in the config resolve
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := newApp(cfg, logger)
	defer app.shutdown()

	fmt.Printf("lumen connected to %s\n", cfg.Backend.Endpoint)
	fmt.Println("Type /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := app.run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// app wires the backend client, the stores, the reconciler, and the session
// manager for one interactive run.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	client        *backend.Client
	sessions      *session.Manager
	conversations *chat.ConversationStore
	messages      *chat.MessageStore
	reconciler    *chat.Reconciler

	heartbeatStop context.CancelFunc
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	client := backend.New(cfg.Backend.Endpoint, cfg.Backend.Project,
		backend.WithDatabase(cfg.Backend.Database),
		backend.WithLogger(logger),
	)

	cols := cfg.Backend.Collections
	conversations := chat.NewConversationStore(client, cols.Conversations, logger)
	messages := chat.NewMessageStore(client, cols.Messages, cols.Conversations, logger)
	reconciler := chat.NewReconciler(client, conversations, messages, cols.Conversations, cols.Messages, logger)
	sessions := session.NewManager(client, client, cols.Identities, cfg.Presence.HeartbeatInterval, logger)

	return &app{
		cfg:           cfg,
		logger:        logger,
		client:        client,
		sessions:      sessions,
		conversations: conversations,
		messages:      messages,
		reconciler:    reconciler,
	}
}

func (a *app) shutdown() {
	if a.heartbeatStop != nil {
		a.heartbeatStop()
	}
	a.reconciler.Close()
}

func (a *app) run(ctx context.Context) error {
	// Print messages from the other party as they arrive.
	a.messages.SetOnChange(func() { a.printIncoming() })

	// Try to pick up an existing session before prompting for login.
	if err := a.sessions.Resume(ctx); err == nil {
		a.afterLogin(ctx)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		a.printPrompt()

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				errCh <- scanner.Err()
			}
		}()

		var line string
		select {
		case <-ctx.Done():
			a.leave(context.Background())
			return nil
		case err := <-errCh:
			a.leave(context.Background())
			return err
		case line = <-inputCh:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.command(ctx, line)
			if err != nil {
				color.Red("error: %v", err)
			}
			if quit {
				return nil
			}
			continue
		}

		a.send(ctx, line)
	}
}

func (a *app) printPrompt() {
	if id := a.sessions.Identity(); id != nil {
		if active := a.messages.Active(); active != "" {
			fmt.Printf("[%s @ %s]> ", id.Name, shortID(active))
			return
		}
		fmt.Printf("[%s]> ", id.Name)
		return
	}
	fmt.Print("> ")
}

// command dispatches one /command line. Returns true to quit.
func (a *app) command(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	switch parts[0] {
	case "/help":
		a.printHelp()
	case "/register":
		if len(parts) < 4 {
			return false, fmt.Errorf("usage: /register <email> <password> <name>")
		}
		if err := a.sessions.Register(ctx, parts[1], parts[2], strings.Join(parts[3:], " ")); err != nil {
			return false, err
		}
		a.afterLogin(ctx)
	case "/login":
		if len(parts) != 3 {
			return false, fmt.Errorf("usage: /login <email> <password>")
		}
		if err := a.sessions.Login(ctx, parts[1], parts[2]); err != nil {
			return false, err
		}
		a.afterLogin(ctx)
	case "/logout":
		a.leave(ctx)
		if err := a.sessions.Logout(ctx); err != nil {
			return false, err
		}
		color.Green("logged out")
	case "/peers":
		return false, a.printPeers(ctx)
	case "/conversations":
		a.printConversations()
	case "/chat":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /chat <peer-id>")
		}
		return false, a.openWith(ctx, parts[1])
	case "/open":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /open <conversation-id>")
		}
		return false, a.open(ctx, parts[1])
	case "/close":
		a.reconciler.ClearActiveConversation()
	case "/read":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /read <message-id>")
		}
		return false, a.messages.MarkRead(ctx, parts[1])
	case "/away":
		a.sessions.SetBackground(ctx)
		color.Yellow("presence: away")
	case "/back":
		a.sessions.SetForeground(ctx)
		color.Green("presence: online")
	case "/quit":
		a.leave(ctx)
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", parts[0])
	}
	return false, nil
}

func (a *app) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /register <email> <password> <name>  create an account and log in")
	fmt.Println("  /login <email> <password>            log in")
	fmt.Println("  /logout                              log out")
	fmt.Println("  /peers                               list people to chat with")
	fmt.Println("  /conversations                       list your conversations")
	fmt.Println("  /chat <peer-id>                      open (or create) a chat with a peer")
	fmt.Println("  /open <conversation-id>              open an existing conversation")
	fmt.Println("  /close                               leave the open conversation")
	fmt.Println("  /read <message-id>                   mark a message as read")
	fmt.Println("  /away, /back                         toggle presence")
	fmt.Println("  /quit                                exit")
	fmt.Println("Anything else is sent as a message to the open conversation.")
}

// afterLogin loads the conversation list, opens the realtime channel, and
// starts the presence heartbeat.
func (a *app) afterLogin(ctx context.Context) {
	identity := a.sessions.Identity()
	color.Green("logged in as %s <%s>", identity.Name, identity.Email)

	if _, err := a.conversations.Load(ctx, identity.ID); err != nil {
		a.logger.Warn("conversation load failed, showing last-known state", "error", err)
	}
	if err := a.reconciler.Start(ctx, identity.ID); err != nil {
		a.logger.Warn("realtime unavailable, updates require manual reload", "error", err)
	}

	hbCtx, cancel := context.WithCancel(ctx)
	a.heartbeatStop = cancel
	go a.sessions.Heartbeat(hbCtx)

	a.printConversations()
}

// leave tears down realtime state before logout or exit. Background presence
// is best-effort on the way out.
func (a *app) leave(ctx context.Context) {
	if a.heartbeatStop != nil {
		a.heartbeatStop()
		a.heartbeatStop = nil
	}
	a.reconciler.Stop()
	if a.sessions.Identity() != nil {
		a.sessions.SetBackground(ctx)
	}
}

func (a *app) printPeers(ctx context.Context) error {
	peers, err := a.sessions.Peers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Println("nobody else is registered yet")
		return nil
	}
	for _, p := range peers {
		presence := color.HiBlackString("offline")
		if p.Online {
			presence = color.GreenString("online")
		}
		fmt.Printf("  %s  %s <%s>  %s\n", shortID(p.ID), p.Name, p.Email, presence)
	}
	return nil
}

func (a *app) printConversations() {
	convs := a.conversations.Conversations()
	if len(convs) == 0 {
		fmt.Println("no conversations yet (/chat <peer-id> to start one)")
		return
	}
	for _, c := range convs {
		preview := c.LastMessage
		if preview == "" {
			preview = color.HiBlackString("(no messages)")
		}
		fmt.Printf("  %s  %s\n", shortID(c.ID), preview)
	}
}

func (a *app) openWith(ctx context.Context, peerID string) error {
	identity := a.sessions.Identity()
	if identity == nil {
		return fmt.Errorf("log in first")
	}
	conv, err := a.conversations.GetOrCreate(ctx, identity.ID, peerID)
	if err != nil {
		return err
	}
	return a.open(ctx, conv.ID)
}

func (a *app) open(ctx context.Context, conversationID string) error {
	if err := a.reconciler.SetActiveConversation(ctx, conversationID); err != nil {
		return err
	}
	msgs, err := a.messages.Load(ctx, conversationID)
	if err != nil {
		a.logger.Warn("message load failed, showing last-known state", "error", err)
		return nil
	}

	// Canonical order is newest first; print oldest first for reading.
	for i := len(msgs) - 1; i >= 0; i-- {
		a.printMessage(msgs[i])
	}
	return nil
}

func (a *app) send(ctx context.Context, content string) {
	identity := a.sessions.Identity()
	if identity == nil {
		color.Red("log in first (/login or /register)")
		return
	}
	active := a.messages.Active()
	if active == "" {
		color.Red("open a conversation first (/chat or /open)")
		return
	}
	if _, err := a.messages.Send(ctx, active, identity.ID, content); err != nil {
		color.Red("send failed: %v", err)
	}
}

// printIncoming echoes the newest message when it came from the other party.
func (a *app) printIncoming() {
	identity := a.sessions.Identity()
	if identity == nil {
		return
	}
	msgs := a.messages.Messages()
	if len(msgs) == 0 || msgs[0].SenderID == identity.ID {
		return
	}
	fmt.Println()
	a.printMessage(msgs[0])
}

func (a *app) printMessage(m chat.Message) {
	who := shortID(m.SenderID)
	if id := a.sessions.Identity(); id != nil && m.SenderID == id.ID {
		who = "you"
	}
	ts := color.HiBlackString(m.CreatedAt.Local().Format(time.Kitchen))
	fmt.Printf("%s %s: %s\n", ts, color.CyanString(who), m.Content)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
