package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/deskhive-io/deskhive/internal/ai"
	"github.com/deskhive-io/deskhive/internal/config"
	"github.com/deskhive-io/deskhive/internal/connector"
	"github.com/deskhive-io/deskhive/internal/connector/slackconn"
	"github.com/deskhive-io/deskhive/internal/connector/telegram"
	"github.com/deskhive-io/deskhive/internal/convstate"
	"github.com/deskhive-io/deskhive/internal/expert"
	"github.com/deskhive-io/deskhive/internal/history"
	"github.com/deskhive-io/deskhive/internal/knowledge"
	"github.com/deskhive-io/deskhive/internal/logbuf"
	"github.com/deskhive-io/deskhive/internal/poll"
	"github.com/deskhive-io/deskhive/internal/provider"
	"github.com/deskhive-io/deskhive/internal/roster"
	"github.com/deskhive-io/deskhive/internal/router"
	"github.com/deskhive-io/deskhive/internal/schedule"
	"github.com/deskhive-io/deskhive/internal/ticketing"
	"github.com/deskhive-io/deskhive/internal/ticketlink"
	"github.com/deskhive-io/deskhive/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	slog.SetDefault(logger)

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("deskhived starting", "data_dir", cfg.Core.DataDir)

	// 1. LLM providers
	providers := make(map[string]provider.Provider)
	for name, pcfg := range cfg.Providers {
		switch pcfg.Type {
		case "anthropic":
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			}
			providers[name] = provider.NewAnthropic(pcfg.APIKey, opts...)
		default: // "openai" or empty
			var opts []provider.OpenAIOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithModel(pcfg.Model))
			}
			providers[name] = provider.NewOpenAI(pcfg.APIKey, opts...)
		}
		logger.Info("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}
	defaultProv, ok := providers["default"]
	if !ok {
		logger.Error("no 'default' provider configured")
		os.Exit(1)
	}
	understanding := ai.New(defaultProv, logger.With("component", "ai"))

	// 2. Stores
	os.MkdirAll(cfg.Core.DataDir, 0o755)
	hist, err := history.NewSQLiteStore(cfg.Core.DataDir + "/history.db")
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	links, err := ticketlink.NewSQLiteStore(cfg.Core.DataDir + "/links.db")
	if err != nil {
		logger.Error("failed to open link store", "error", err)
		os.Exit(1)
	}
	state := convstate.New(time.Duration(cfg.Core.PreTicketTTLMinutes) * time.Minute)

	// 3. External services
	tickets := ticketing.NewHTTPClient(cfg.Ticketing.BaseURL,
		ticketing.WithTimeout(time.Duration(cfg.Ticketing.TimeoutSeconds)*time.Second))
	manager := ticketlink.NewManager(links, tickets, logger.With("component", "ticketlink"))

	var kb knowledge.Service
	if cfg.Knowledge.Dir != "" {
		fileKB, err := knowledge.NewFileKB(cfg.Knowledge.Dir, logger.With("component", "knowledge"))
		if err != nil {
			logger.Error("failed to load knowledge base", "dir", cfg.Knowledge.Dir, "error", err)
			os.Exit(1)
		}
		kb = fileKB
	} else {
		kb = emptyKB{}
	}

	var expertSvc expert.Service
	if cfg.Expert.APIKey != "" {
		var opts []expert.Option
		if cfg.Expert.BaseURL != "" {
			opts = append(opts, expert.WithBaseURL(cfg.Expert.BaseURL))
		}
		if cfg.Expert.Model != "" {
			opts = append(opts, expert.WithModel(cfg.Expert.Model))
		}
		expertSvc = expert.NewClient(cfg.Expert.APIKey, opts...)
	} else {
		expertSvc = unavailableExpert{}
	}

	rosterFile := cfg.Roster.File
	if rosterFile == "" {
		rosterFile = cfg.Core.DataDir + "/roster.json"
	}
	dir := roster.NewFileDirectory(rosterFile, logger.With("component", "roster"))

	var window *schedule.Window
	if cfg.Schedule != nil {
		window, err = schedule.NewWindow(cfg.Schedule.Start, cfg.Schedule.End, cfg.Schedule.Timezone)
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			os.Exit(1)
		}
	}

	// 4. The gateway mux and the router
	gateway := newGatewayMux()

	rt := router.New(understanding, kb, expertSvc, state, hist, manager, dir, gateway, window,
		time.Duration(cfg.Core.DebounceSeconds)*time.Second,
		router.Config{
			FAQThreshold:       cfg.Routing.FAQThreshold,
			OverrideThreshold:  cfg.Routing.OverrideThreshold,
			MixedThreshold:     cfg.Routing.MixedThreshold,
			GateOrder:          cfg.Routing.GateOrder,
			StaffUsernames:     cfg.Routing.StaffUsernames,
			SalesResponsible:   cfg.Routing.SalesResponsible,
			DefaultResponsible: cfg.Routing.DefaultResponsible,
			HistoryLimit:       cfg.Routing.HistoryLimit,
		},
		logger.With("component", "router"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Connectors
	var connectors []connector.Connector
	if cfg.Connectors.Telegram != nil {
		tg, err := telegram.New(
			telegram.Config{Token: cfg.Connectors.Telegram.Token, AllowFrom: cfg.Connectors.Telegram.AllowFrom},
			gateway.inbound(rt), gateway.callbacks(rt),
			logger.With("connector", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		connectors = append(connectors, tg)
	}
	if cfg.Connectors.Slack != nil {
		sl, err := slackconn.New(
			slackconn.Config{BotToken: cfg.Connectors.Slack.BotToken, AppToken: cfg.Connectors.Slack.AppToken},
			gateway.inbound(rt), gateway.callbacks(rt),
			logger.With("connector", "slack"))
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		connectors = append(connectors, sl)
	}
	for _, c := range connectors {
		c := c
		gateway.register(c.Name(), c)
		go safeGo(logger, c.Name(), func() { c.Start(ctx) })
		logger.Info("connector started", "connector", c.Name())
	}

	// 6. Periodic jobs
	reconciler := ticketlink.NewReconciler(links, tickets, gateway, state, hist,
		cfg.Ticketing.TerminalStatuses, logger.With("component", "reconcile"))

	poller := poll.New(logger.With("component", "poll"))
	jobs := map[string]error{
		"reconcile": poller.Add("reconcile", cfg.Core.ReconcileSchedule, reconciler.Run),
		"roster": poller.Add("roster", cfg.Roster.RefreshSchedule, func(_ context.Context) {
			if err := dir.Refresh(); err != nil {
				logger.Warn("roster refresh failed", "error", err)
			}
		}),
		"report": poller.Add("report", cfg.Core.ReportSchedule, func(_ context.Context) {
			manager.LogStats()
		}),
	}
	for name, err := range jobs {
		if err != nil {
			logger.Error("failed to schedule job", "job", name, "error", err)
			os.Exit(1)
		}
	}
	go safeGo(logger, "poller", func() { poller.Start(ctx) })

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	for _, c := range connectors {
		c.Stop()
	}
	hist.DB().Close()
	links.DB().Close()
	logger.Info("deskhived stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// gatewayMux remembers which connector each chat talked through so replies
// (including reconciler relays) go back out the same way.
type gatewayMux struct {
	mu       sync.Mutex
	chats    map[string]connector.Sender
	byName   map[string]connector.Sender
	fallback connector.Sender
}

func newGatewayMux() *gatewayMux {
	return &gatewayMux{
		chats:  make(map[string]connector.Sender),
		byName: make(map[string]connector.Sender),
	}
}

func (g *gatewayMux) register(name string, s connector.Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byName[name] = s
	if g.fallback == nil {
		g.fallback = s
	}
}

func (g *gatewayMux) remember(chatID string, s connector.Sender) {
	g.mu.Lock()
	g.chats[chatID] = s
	g.mu.Unlock()
}

func (g *gatewayMux) senderFor(chatID string) (connector.Sender, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.chats[chatID]; ok {
		return s, nil
	}
	// Unknown chat (e.g. a reconciler relay after restart): fall back to the
	// first connector rather than dropping the message.
	if g.fallback != nil {
		return g.fallback, nil
	}
	return nil, fmt.Errorf("gateway: no connector for chat %s", chatID)
}

func (g *gatewayMux) Send(ctx context.Context, msg connector.OutboundMessage) error {
	s, err := g.senderFor(msg.ChatID)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}

func (g *gatewayMux) SendFile(ctx context.Context, f connector.File) error {
	s, err := g.senderFor(f.ChatID)
	if err != nil {
		return err
	}
	return s.SendFile(ctx, f)
}

// inbound builds a connector handler that records the chat→connector mapping
// and hands the message to the router.
func (g *gatewayMux) inbound(rt *router.Router) connector.InboundHandler {
	return func(ctx context.Context, msg connector.InboundMessage) error {
		if s := g.connectorByName(msg.Channel); s != nil {
			g.remember(msg.ChatID, s)
		}
		rt.Receive(ctx, msg)
		return nil
	}
}

func (g *gatewayMux) callbacks(rt *router.Router) connector.CallbackHandler {
	return func(ctx context.Context, chatID, senderID, data string) {
		rt.HandleCallback(ctx, protocol.ConversationKey{ChatID: chatID, UserID: senderID}, data)
	}
}

func (g *gatewayMux) connectorByName(name string) connector.Sender {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byName[name]
}

// emptyKB stands in when no knowledge directory is configured: nothing ever
// matches, so every question goes down the ticket path.
type emptyKB struct{}

func (emptyKB) ExactMatch(context.Context, string) (*knowledge.Entry, error) {
	return nil, nil
}

func (emptyKB) SemanticSearch(context.Context, string, int) ([]knowledge.Entry, float64, error) {
	return nil, 0, nil
}

// unavailableExpert stands in when no expert API key is configured; the
// router treats the error as a degraded lookup and opens a ticket instead.
type unavailableExpert struct{}

func (unavailableExpert) Lookup(context.Context, string) (*expert.Answer, error) {
	return nil, fmt.Errorf("expert: not configured")
}
