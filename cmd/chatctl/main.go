// chatctl talks to the legal assistant agent from a terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lexmarket/chatbot/internal/chatbot"
	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/identity"
	"github.com/lexmarket/chatbot/internal/logging"
	"github.com/lexmarket/chatbot/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Terminal client for the legal assistant chatbot",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new chat for the selected agent",
	Args:  cobra.NoArgs,
	RunE:  runNew,
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the active session for the selected agent",
	Args:  cobra.NoArgs,
	RunE:  runCurrent,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var clearCmd = &cobra.Command{
	Use:   "clear [session-id]",
	Short: "Forget one session, or every session with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClear,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.chatctl.yaml)")
	flags.String("base-url", "http://localhost:8000", "agent backend base URL")
	flags.String("db", "./data/chatbot.db", "SQLite file holding sessions")
	flags.StringP("agent", "a", string(domain.DefaultAgent), "agent to talk to")
	flags.Int("retries", 3, "attempts per message")
	flags.Duration("timeout", 0, "per-attempt timeout (default 60s)")
	flags.String("log-level", "warn", "log level (debug|info|warn|error)")
	flags.Bool("plain", false, "print answers without Markdown rendering")

	bindings := map[string]string{
		"base-url":  "CHATBOT_BASE_URL",
		"db":        "DB_PATH",
		"retries":   "CHATBOT_MAX_RETRIES",
		"timeout":   "CHATBOT_REQUEST_TIMEOUT",
		"log-level": "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", key, err)
		}
		if err := viper.BindEnv(key, env); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s env: %v\n", key, err)
		}
	}
	for _, key := range []string{"agent", "plain"} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", key, err)
		}
	}

	sendCmd.Flags().StringP("session", "s", "", "continue this session id")
	clearCmd.Flags().Bool("all", false, "forget every session")

	rootCmd.AddCommand(sendCmd, newCmd, currentCmd, sessionsCmd, clearCmd)
}

func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".chatctl")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(os.Stderr, viper.GetString("log-level"), true))
}

// app is the chatbot stack backed by the local SQLite file.
type app struct {
	svc      *chatbot.Service
	sessions *chatbot.SessionManager
	repo     *store.SQLiteStore
}

func newApp(ctx context.Context) (*app, error) {
	repo, err := store.NewSQLite(viper.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	logger := slog.Default()
	sessions := chatbot.NewSessionManager(ctx, repo, chatbot.WithSessionLogger(logger))
	transport := chatbot.NewTransport(chatbot.TransportConfig{
		BaseURL:        viper.GetString("base-url"),
		MaxRetries:     viper.GetInt("retries"),
		RequestTimeout: durationSetting("timeout"),
	}, chatbot.WithTransportLogger(logger))
	svc := chatbot.NewService(sessions, transport, identity.NewResolver(repo, logger),
		chatbot.WithLogger(logger))

	return &app{svc: svc, sessions: sessions, repo: repo}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		slog.Warn("Failed to close session store", "error", err)
	}
}

// durationSetting reads a duration that may also be given as plain
// milliseconds, matching the server's env parsing.
func durationSetting(key string) time.Duration {
	raw := strings.TrimSpace(viper.GetString(key))
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return viper.GetDuration(key)
}

func selectedAgent() (domain.AgentID, error) {
	agent := domain.AgentID(viper.GetString("agent"))
	if !agent.IsKnown() {
		return "", fmt.Errorf("unknown agent %q (known: %s)", agent, agentList())
	}
	return agent, nil
}

func agentList() string {
	names := make([]string, 0, len(domain.Agents()))
	for _, a := range domain.Agents() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}

func runSend(cmd *cobra.Command, args []string) error {
	agent, err := selectedAgent()
	if err != nil {
		return err
	}
	sessionID, _ := cmd.Flags().GetString("session")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.ErrOrStderr()
	onState := func(state domain.ChatState, message string) {
		if state == domain.ChatStateError {
			return
		}
		fmt.Fprintln(out, stateLine(state, message))
	}

	result := a.svc.SendMessage(ctx, strings.Join(args, " "), agent, onState, sessionID)
	if !result.Success {
		return fmt.Errorf("%s (%s)", result.Response, result.Error)
	}

	answer := result.Response
	if !viper.GetBool("plain") {
		if rendered, err := renderMarkdown(answer, "auto", 100); err == nil {
			answer = rendered
		} else {
			slog.Debug("Markdown rendering failed", "error", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	fmt.Fprintln(out, mutedStyle.Render("session "+result.SessionID))
	return nil
}

func runNew(cmd *cobra.Command, _ []string) error {
	agent, err := selectedAgent()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	session := a.svc.CreateNewSession(cmd.Context(), agent)
	fmt.Fprintln(cmd.OutOrStdout(), session.ID)
	return nil
}

func runCurrent(cmd *cobra.Command, _ []string) error {
	agent, err := selectedAgent()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	session, ok := a.svc.GetCurrentSession(cmd.Context(), agent)
	if !ok {
		return fmt.Errorf("no active session for %s", agent)
	}
	fmt.Fprintln(cmd.OutOrStdout(), sessionTable([]domain.Session{session}))
	return nil
}

func runSessions(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sessions := a.sessions.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no sessions"))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), sessionTable(sessions))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return fmt.Errorf("pass a session id or --all")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if all {
		a.sessions.ClearAllSessions(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "cleared all sessions")
		return nil
	}
	if _, ok := a.sessions.Session(args[0]); !ok {
		return fmt.Errorf("unknown session %q", args[0])
	}
	a.svc.ClearCurrentSession(cmd.Context(), args[0])
	fmt.Fprintln(cmd.OutOrStdout(), "cleared "+args[0])
	return nil
}
