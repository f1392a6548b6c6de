// Package sim provides an in-memory register transport for dry runs and
// tests. Registers hold fixed words or are re-drawn from a range on every
// read, and reads can be made to fail at random.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxReadLength matches the Modbus register read limit.
const DefaultMaxReadLength = 125

// ErrInjected is returned by reads failed through the failure rate.
var ErrInjected = errors.New("simulated transport failure")

type noise struct {
	min, max uint16
}

// Transport serves reads from an in-memory register image.
type Transport struct {
	mu          sync.Mutex
	words       map[int]uint16
	noise       map[int]noise
	src         randomSource
	maxLength   int
	failureRate float64
	failNext    error
	reads       int
}

// Option customises a Transport.
type Option func(*settings)

type settings struct {
	source      string
	seed        *int64
	maxLength   int
	failureRate float64
}

// WithSeed makes the pseudo random source deterministic.
func WithSeed(seed int64) Option {
	return func(s *settings) {
		s.seed = &seed
	}
}

// WithSource selects "pseudo" (default) or "secure" randomness.
func WithSource(name string) Option {
	return func(s *settings) {
		s.source = name
	}
}

// WithMaxReadLength sets the largest accepted read.
func WithMaxReadLength(n int) Option {
	return func(s *settings) {
		s.maxLength = n
	}
}

// WithFailureRate makes each read fail with the given probability.
func WithFailureRate(p float64) Option {
	return func(s *settings) {
		s.failureRate = p
	}
}

// New returns an empty simulator.
func New(opts ...Option) (*Transport, error) {
	cfg := settings{maxLength: DefaultMaxReadLength}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxLength < 1 {
		return nil, fmt.Errorf("max read length must be positive, got %d", cfg.maxLength)
	}
	if cfg.failureRate < 0 || cfg.failureRate > 1 {
		return nil, fmt.Errorf("failure rate %g outside [0, 1]", cfg.failureRate)
	}
	src, err := newRandomSource(cfg.source, cfg.seed)
	if err != nil {
		return nil, err
	}
	return &Transport{
		words:       make(map[int]uint16),
		noise:       make(map[int]noise),
		src:         src,
		maxLength:   cfg.maxLength,
		failureRate: cfg.failureRate,
	}, nil
}

// Set stores fixed words starting at addr.
func (t *Transport) Set(addr int, words ...uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range words {
		t.words[addr+i] = w
		delete(t.noise, addr+i)
	}
}

// SetText stores text as NUL padded ASCII, two bytes per word.
func (t *Transport) SetText(addr, words int, text string) {
	buf := make([]byte, words*2)
	copy(buf, text)
	packed := make([]uint16, words)
	for i := range packed {
		packed[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	t.Set(addr, packed...)
}

// SetNoise makes addr return a fresh uniform value from [min, max] on every
// read.
func (t *Transport) SetNoise(addr int, min, max uint16) error {
	if max < min {
		return fmt.Errorf("invalid noise range [%d, %d]", min, max)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.noise[addr] = noise{min: min, max: max}
	return nil
}

// FailNext makes the next read return err.
func (t *Transport) FailNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = err
}

// Reads returns the number of reads served or failed so far.
func (t *Transport) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

// MaxReadLength reports the largest accepted read.
func (t *Transport) MaxReadLength() int {
	return t.maxLength
}

// ReadWords returns count words from the register image. Unset registers
// read as zero.
func (t *Transport) ReadWords(ctx context.Context, start, count int) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count < 1 || count > t.maxLength {
		return nil, fmt.Errorf("count %d outside 1..%d", count, t.maxLength)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads++
	if err := t.failNext; err != nil {
		t.failNext = nil
		return nil, err
	}
	fail, err := chance(t.src, t.failureRate)
	if err != nil {
		return nil, err
	}
	if fail {
		return nil, fmt.Errorf("read %d+%d: %w", start, count, ErrInjected)
	}
	out := make([]uint16, count)
	for i := range out {
		addr := start + i
		if n, ok := t.noise[addr]; ok {
			v, err := intInRange(t.src, int64(n.min), int64(n.max))
			if err != nil {
				return nil, err
			}
			out[i] = uint16(v)
			continue
		}
		out[i] = t.words[addr]
	}
	return out, nil
}
