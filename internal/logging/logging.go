package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/regio/config"
)

// DefaultApp is the Loki "app" label used when none is configured.
const DefaultApp = "regio"

// Option customises Setup.
type Option func(*setupOptions)

type setupOptions struct {
	out io.Writer
}

// WithOutput replaces stdout as the local log destination.
func WithOutput(w io.Writer) Option {
	return func(o *setupOptions) {
		if w != nil {
			o.out = w
		}
	}
}

// Setup creates a zerolog logger according to the provided configuration.
// The returned cleanup flushes and stops the Loki client when enabled.
func Setup(cfg config.LoggingConfig, opts ...Option) (zerolog.Logger, func(), error) {
	o := setupOptions{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	local := o.out
	if strings.EqualFold(cfg.Format, "text") {
		local = zerolog.ConsoleWriter{Out: o.out, TimeFormat: time.RFC3339, NoColor: o.out != os.Stdout}
	}

	writers := []io.Writer{local}
	cleanup := func() {}

	if cfg.Loki.Enabled {
		lokiWriter, closer, err := newLokiWriter(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, lokiWriter)
		cleanup = closer
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).With().Timestamp().Logger().Level(level)
	return logger, cleanup, nil
}

// ParseLevel maps a configured level name to a zerolog level. Empty means
// info.
func ParseLevel(value string) (zerolog.Level, error) {
	if value == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func lokiLabels(configured map[string]string) model.LabelSet {
	labels := model.LabelSet{}
	for k, v := range configured {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	if _, ok := labels["app"]; !ok {
		labels["app"] = DefaultApp
	}
	return labels
}

func newLokiWriter(cfg config.LokiConfig) (io.Writer, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	labels := lokiLabels(cfg.Labels)
	if err := labels.Validate(); err != nil {
		return nil, nil, fmt.Errorf("loki labels: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}
	return &lokiWriter{client: client, labels: labels}, client.Stop, nil
}

type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	err := l.client.Handle(l.labels, time.Now(), entry)
	return len(p), err
}
