package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"proxypool/internal/app/server"
	"proxypool/internal/config"
	"proxypool/internal/events"
	"proxypool/internal/geo"
	"proxypool/internal/jobs/checker"
	probequeue "proxypool/internal/jobs/queue/probe"
	"proxypool/internal/jobs/runtime"
	"proxypool/internal/metrics"
	"proxypool/internal/pool"
	"proxypool/internal/quarantine"
	"proxypool/internal/registry"
	"proxypool/internal/selection"
	"proxypool/internal/support"
)

const (
	defaultAPIPort   = 8090
	defaultGeoDBPath = "data/GeoLite2-City.mmdb"
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	portFlag := flag.Int("port", defaultAPIPort, "Port for the API server")
	geoDBFlag := flag.String("geoip-db", defaultGeoDBPath, "Path to the GeoLite2 city database")
	flag.Parse()

	config.ReadSettings()
	cfg := config.GetConfig()
	port := resolvePort("POOL_PORT", *portFlag)

	clk := clock.New()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	reg := registry.New(store)
	if store != nil {
		if err := reg.Hydrate(); err != nil {
			log.Error("Failed to load persisted proxies", "error", err)
		} else {
			log.Info("Fleet loaded from storage", "proxies", reg.Len())
		}
	}

	bus := events.NewBus(cfg.Events.Buffer)
	sink := events.NewMetricsSink(prometheus.DefaultRegisterer)
	sink.Consume(bus.Subscribe())
	defer func() {
		bus.Close()
		sink.Wait()
	}()

	tracker := metrics.NewTracker(clk)
	manager := quarantine.NewManager(reg, bus, clk)
	tracker.SetUpdateHook(manager.HandleResult)

	resolver := geo.NewResolver(support.GetEnv("geoipDbPath", *geoDBFlag))
	defer resolver.Close()

	prober := checker.NewHTTPProber()
	p := pool.New(reg, tracker, manager, selection.NewEngine(), resolver, bus, prober, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		if err := support.CloseRedisClient(); err != nil {
			log.Error("Failed to close Redis client", "error", err)
		}
	}()

	schedule, redisClient := openSchedule(ctx, clk)
	scheduler := checker.NewScheduler(reg, schedule, prober, p, manager, clk)
	go func() {
		if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
			log.Error("Health check scheduler stopped", "error", err)
		}
	}()
	go p.RunWatchdog(ctx)
	go detectEgressIP(ctx)

	srv := server.NewServer(p)
	if redisClient != nil {
		srv.WithInstanceCounter(func(ctx context.Context) (int, error) {
			return runtime.CountActiveInstances(ctx, redisClient)
		})
	}
	return srv.OpenRoutes(port)
}

// openStore connects the durable registry backend when persistence is
// enabled. A missing DSN downgrades to in-memory with a warning instead of
// refusing to start.
func openStore(cfg config.Config) (registry.Store, error) {
	if !cfg.Registry.Persist {
		return nil, nil
	}

	dsn := os.Getenv("databaseUrl")
	if dsn == "" {
		log.Warn("Persistence enabled but no databaseUrl set, running in-memory")
		return nil, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := registry.NewGormStore(db, config.CalculateBetweenTime(cfg.Registry.RetryBackoff))
	if err != nil {
		return nil, fmt.Errorf("failed to set up proxy store: %w", err)
	}
	return store, nil
}

// openSchedule prefers the shared Redis schedule so multiple instances can
// split the probe workload; without Redis the pool runs standalone on the
// in-process heap.
func openSchedule(ctx context.Context, clk clock.Clock) (probequeue.Schedule, *redis.Client) {
	client, err := support.GetRedisClient()
	if err != nil {
		log.Warn("Redis unavailable, using in-process probe schedule", "error", err)
		return probequeue.NewMemorySchedule(clk), nil
	}

	go runtime.StartHeartbeat(ctx, client)
	log.Info("Using shared Redis probe schedule", "instance", runtime.InstanceID())
	return probequeue.NewRedisSchedule(client), client
}

// detectEgressIP keeps asking the lookup service until it learns this
// instance's public address. Anonymity grading is Unknown-only until then.
func detectEgressIP(ctx context.Context) {
	for config.GetCurrentIp() == "" {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ip, err := checker.FetchEgressIP()
		if err != nil {
			log.Error("Error checking IP address", "error", err)
			time.Sleep(3 * time.Second)
			continue
		}

		config.SetCurrentIp(ip)
		log.Infof("Found IP! Current IP: %s", ip)
	}
}

func resolvePort(envKey string, fallback int) int {
	port := support.GetEnvInt(envKey, fallback)
	if port <= 0 || port > 65535 {
		log.Warn("invalid port override", "env", envKey, "port", port)
		return fallback
	}
	return port
}
