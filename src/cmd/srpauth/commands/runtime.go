// FILE: srpauth/src/cmd/srpauth/commands/runtime.go
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"srpauth/src/internal/api"
	"srpauth/src/internal/config"
	"srpauth/src/internal/dispatch"
	"srpauth/src/internal/metrics"
	"srpauth/src/internal/session"
	"srpauth/src/internal/tls"
	"srpauth/src/internal/transport"
	"srpauth/src/internal/version"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/lixenwraith/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// runtime holds the collaborators shared by the client commands.
type runtime struct {
	cfg       *config.Config
	logger    *log.Logger
	out       *OutputHandler
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	transport transport.Transport
	hvTable   api.HVTable
	limiter   *dispatch.Limiter
	store     session.Store
	redis     *redis.Client
	pubsub    *gochannel.GoChannel
	events    *session.WatermillPublisher
	cancel    context.CancelFunc
}

// newRuntime loads configuration and builds every client-side component.
func newRuntime(ctx context.Context, configArgs []string, quiet bool) (*runtime, error) {
	cfg, err := config.Load(configArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Logging, quiet)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		out:      NewOutputHandler(quiet),
		registry: prometheus.NewRegistry(),
		hvTable:  hvTableFromConfig(cfg.Dispatch.HumanVerification),
	}
	rt.metrics = metrics.New(rt.registry)

	if err := rt.initTransport(); err != nil {
		rt.Close()
		return nil, err
	}

	if rt.limiter, err = dispatch.NewLimiter(cfg.Dispatch.RateLimit, logger); err != nil {
		rt.Close()
		return nil, err
	}

	if err := rt.initStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Events.Enabled {
		if err := rt.initEvents(ctx); err != nil {
			rt.Close()
			return nil, err
		}
	}

	logger.Info("msg", "Runtime initialized",
		"component", "cli",
		"version", version.Short(),
		"backend", cfg.API.Backend,
		"base_url", cfg.API.BaseURL,
		"store", cfg.Store.Type,
		"events", cfg.Events.Enabled)

	return rt, nil
}

func (rt *runtime) initTransport() error {
	apiCfg := rt.cfg.API
	opts := transport.DefaultOptions()
	opts.BaseURL = apiCfg.BaseURL
	opts.Backend = apiCfg.Backend
	opts.Proxy = apiCfg.Proxy
	opts.Cookies = apiCfg.Cookies
	if apiCfg.AppVersion != "" {
		opts.AppVersion = apiCfg.AppVersion
	}
	if apiCfg.UserAgent != "" {
		opts.UserAgent = apiCfg.UserAgent
	}
	if apiCfg.TimeoutMS > 0 {
		opts.Timeout = apiCfg.Timeout()
	}

	tlsManager, err := tls.NewClientManager(apiCfg.TLS, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}
	if tlsManager != nil {
		opts.TLS = tlsManager.GetConfig()
	}

	t, err := transport.New(opts, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	rt.transport = t
	return nil
}

func (rt *runtime) initStore(ctx context.Context) error {
	switch rt.cfg.Store.Type {
	case "", "none":
		return nil
	case "memory":
		rt.store = session.NewMemoryStore()
		return nil
	case "redis":
		rc := rt.cfg.Store.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", rc.Addr, err)
		}

		rt.redis = client
		rt.store = session.NewRedisStore(client, rc.Prefix, rc.TTL())
		rt.logger.Debug("msg", "Session store connected",
			"component", "cli",
			"store", "redis",
			"addr", rc.Addr)
		return nil
	default:
		return fmt.Errorf("unknown store type: %s", rt.cfg.Store.Type)
	}
}

func (rt *runtime) initEvents(ctx context.Context) error {
	wmLogger := newWatermillLogger(rt.logger)
	rt.pubsub = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
	rt.events = session.NewWatermillPublisher(rt.pubsub, rt.cfg.Events.TopicPrefix)

	subCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	for _, kind := range []string{session.EventRefreshed, session.EventLoggedOut} {
		if err := subscribeEvents(subCtx, rt.pubsub, rt.events.Topic(kind), rt.logger); err != nil {
			return err
		}
	}
	return nil
}

// sessionOptions wires the shared collaborators into new sessions.
func (rt *runtime) sessionOptions() session.Options {
	opts := session.Options{
		Logger:  rt.logger,
		Metrics: rt.metrics,
	}
	if rt.store != nil {
		opts.Store = rt.store
	}
	if rt.events != nil {
		opts.Events = rt.events
	}
	return opts
}

// dispatcher builds a request dispatcher bound to s.
func (rt *runtime) dispatcher(s *session.Session) *dispatch.Dispatcher {
	return dispatch.New(rt.transport, s,
		dispatch.WithLogger(rt.logger),
		dispatch.WithMetrics(rt.metrics),
		dispatch.WithHVTable(rt.hvTable),
		dispatch.WithLimiter(rt.limiter))
}

// Close releases everything newRuntime acquired.
func (rt *runtime) Close() {
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.pubsub != nil {
		if err := rt.pubsub.Close(); err != nil {
			rt.logger.Warn("msg", "Failed to close event bus", "component", "cli", "error", err)
		}
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.registry != nil && rt.logger != nil {
		rt.reportMetrics()
	}
	if rt.logger != nil {
		_ = rt.logger.Shutdown(2 * time.Second)
	}
}

// reportMetrics logs the non-zero counters gathered during the run.
func (rt *runtime) reportMetrics() {
	families, err := rt.registry.Gather()
	if err != nil {
		rt.logger.Warn("msg", "Failed to gather metrics", "component", "cli", "error", err)
		return
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			value := m.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%s=%g", name, value))
		}
	}
	if len(lines) == 0 {
		return
	}
	sort.Strings(lines)
	rt.logger.Debug("msg", "Metrics summary",
		"component", "cli",
		"counters", strings.Join(lines, " "))
}

// hvTableFromConfig converts configured rules; an empty list keeps the
// default mapping.
func hvTableFromConfig(rules []config.HVRuleConfig) api.HVTable {
	if len(rules) == 0 {
		return api.DefaultHVTable()
	}
	table := make(api.HVTable, 0, len(rules))
	for _, r := range rules {
		table = append(table, api.HVRule{Status: r.Status, Code: r.Code})
	}
	return table
}
