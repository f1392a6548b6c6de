package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/regio/config"
	"github.com/timzifer/regio/internal/logging"
	"github.com/timzifer/regio/internal/reload"
	"github.com/timzifer/regio/publish"
	"github.com/timzifer/regio/telemetry"
	"github.com/timzifer/regio/transport/modbus"
)

func main() {
	cfgPath := flag.String("config", "regio.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	once := flag.Bool("once", false, "Poll every device once and exit")
	metricsListen := flag.String("metrics-listen", "", "Override the telemetry listen address")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configCheck {
		devices, err := buildDevices(cfg, modbus.NewClientFactory(), zerolog.Nop(), telemetry.Noop())
		if err != nil {
			log.Fatal().Err(err).Msg("configuration cannot be built")
		}
		closeDevices(devices)
		fmt.Printf("Configuration %s is valid (%d devices).\n", *cfgPath, len(cfg.Devices))
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	if *metricsListen != "" {
		cfg.Telemetry.Listen = *metricsListen
	}
	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.Enabled && cfg.Telemetry.Listen != "" {
		go serveMetrics(ctx, cfg.Telemetry.Listen, logger)
	}

	if *once {
		if err := runOnce(ctx, cfg, modbus.NewClientFactory(), logger, collector); err != nil {
			logger.Error().Err(err).Msg("poll failed")
			os.Exit(1)
		}
		return
	}
	if err := serve(ctx, *cfgPath, cfg, modbus.NewClientFactory(), logger, collector); err != nil {
		logger.Fatal().Err(err).Msg("failed to create devices")
	}
}

var reloadInterval = 2 * time.Second

// pollSet is everything built from one configuration.
type pollSet struct {
	cfg     *config.Config
	devices []*polledDevice
	pub     publish.Publisher
}

func buildPollSet(cfg *config.Config, factory modbus.ClientFactory, logger zerolog.Logger, collector telemetry.Collector) (*pollSet, error) {
	pub, err := newPublisher(cfg.MQTT, logger)
	if err != nil {
		return nil, err
	}
	devices, err := buildDevices(cfg, factory, logger, collector)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &pollSet{cfg: cfg, devices: devices, pub: pub}, nil
}

func (s *pollSet) close() {
	closeDevices(s.devices)
	_ = s.pub.Close()
}

// serve builds the devices of cfg and polls them until ctx ends. With hot
// reload enabled a changed configuration file is loaded and built while the
// running set keeps polling; only a successful build replaces it. Failures
// are logged and the running set is kept.
func serve(ctx context.Context, path string, cfg *config.Config, factory modbus.ClientFactory, logger zerolog.Logger, collector telemetry.Collector) error {
	current, err := buildPollSet(cfg, factory, logger, collector)
	if err != nil {
		return err
	}
	build := func(cfg *config.Config) (*pollSet, error) {
		return buildPollSet(cfg, factory, logger, collector)
	}
	for {
		runCtx, stop := context.WithCancel(ctx)
		next := make(chan *pollSet, 1)
		var watching sync.WaitGroup
		if current.cfg.HotReload {
			watching.Add(1)
			go func() {
				defer watching.Done()
				watchConfig(runCtx, path, logger, build, next, stop)
			}()
		}
		run(runCtx, current.devices, logger, current.pub)
		stop()
		watching.Wait()
		current.close()

		select {
		case current = <-next:
			logger.Info().Str("config", path).Int("devices", len(current.devices)).Msg("configuration reloaded")
		default:
			return nil
		}
	}
}

// watchConfig builds the first configuration that loads and builds cleanly
// after path changed, hands it over on next and cancels the running poll
// loop through stop.
func watchConfig(ctx context.Context, path string, logger zerolog.Logger, build func(*config.Config) (*pollSet, error), next chan<- *pollSet, stop context.CancelFunc) {
	watcher, err := reload.NewWatcher(path)
	if err != nil {
		logger.Warn().Err(err).Msg("hot reload disabled")
		return
	}
	for changed := range watcher.Watch(ctx, reloadInterval) {
		cfg, err := config.Load(path)
		if err != nil {
			logger.Error().Err(err).Strs("files", changed).Msg("configuration change rejected")
			continue
		}
		set, err := build(cfg)
		if err != nil {
			logger.Error().Err(err).Strs("files", changed).Msg("configuration change rejected")
			continue
		}
		next <- set
		stop()
		return
	}
}

func runOnce(ctx context.Context, cfg *config.Config, factory modbus.ClientFactory, logger zerolog.Logger, collector telemetry.Collector) error {
	pub, err := newPublisher(cfg.MQTT, logger)
	if err != nil {
		return err
	}
	defer pub.Close()
	devices, err := buildDevices(cfg, factory, logger, collector)
	if err != nil {
		return err
	}
	defer closeDevices(devices)
	return pollOnce(ctx, devices, logger, pub)
}

// newPublisher connects the MQTT sink when one is configured.
func newPublisher(cfg *config.MQTTConfig, logger zerolog.Logger) (publish.Publisher, error) {
	if cfg == nil {
		return publish.Nop(), nil
	}
	return publish.NewMQTT(*cfg, logger)
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("listen", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

// pollOnce polls every device a single time and returns the joined errors.
func pollOnce(ctx context.Context, devices []*polledDevice, logger zerolog.Logger, pub publish.Publisher) error {
	var errs []error
	for _, dev := range devices {
		if err := dev.poll(ctx, logger, pub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// run polls each device on its own interval until ctx ends. Failed polls are
// logged and retried on the next tick.
func run(ctx context.Context, devices []*polledDevice, logger zerolog.Logger, pub publish.Publisher) {
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev *polledDevice) {
			defer wg.Done()
			ticker := time.NewTicker(dev.interval)
			defer ticker.Stop()
			for {
				if err := dev.poll(ctx, logger, pub); err != nil && ctx.Err() == nil {
					logger.Error().Err(err).Str("device", dev.device.Name()).Msg("poll failed")
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}(dev)
	}
	logger.Info().Int("devices", len(devices)).Msg("polling started")
	wg.Wait()
	logger.Info().Msg("polling stopped")
}
