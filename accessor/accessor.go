package accessor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/regio/decode"
	"github.com/timzifer/regio/regset"
	"github.com/timzifer/regio/snapshot"
	"github.com/timzifer/regio/telemetry"
)

// Transport performs bounded word reads against a device.
type Transport interface {
	ReadWords(ctx context.Context, start, count int) ([]uint16, error)
	// MaxReadLength is the largest count a single ReadWords call accepts.
	MaxReadLength() int
}

// Device is the capability every device accessor offers to schedulers.
//
// Update fails with a *TransportError for every read problem. Asking for a
// purpose the device never declared is a programming error and returns
// ErrConfiguration instead.
type Device interface {
	Name() string
	DataTimestamp() time.Time
	Update(ctx context.Context, purpose Purpose) (bool, error)
}

type plannedSet struct {
	def    SetDefinition
	ranges []regset.Range
}

// Accessor owns the register snapshot of one device and decodes fields from
// it. Update is the only method that touches the transport.
type Accessor struct {
	name      string
	transport Transport
	store     *snapshot.Store
	sets      map[Purpose]*plannedSet
	purposes  []Purpose
	fields    map[string]Field
	channels  map[int]Field
	logger    zerolog.Logger
	collector telemetry.Collector
}

// Option customises an Accessor.
type Option func(*options)

type options struct {
	logger    zerolog.Logger
	collector telemetry.Collector
	store     []snapshot.Option
}

// WithLogger sets the logger used for range reads and transport failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCollector wires update metrics.
func WithCollector(collector telemetry.Collector) Option {
	return func(o *options) {
		if collector != nil {
			o.collector = collector
		}
	}
}

// WithClock replaces the time source stamping snapshot commits.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.store = append(o.store, snapshot.WithClock(now))
	}
}

// New validates def and plans the reads of every address set against the
// transport's maximum read length. All declaration problems surface here as
// ErrConfiguration.
func New(def Definition, transport Transport, opts ...Option) (*Accessor, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: device name must not be empty", ErrConfiguration)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: device %s: transport is nil", ErrConfiguration, def.Name)
	}
	if len(def.Sets) == 0 {
		return nil, fmt.Errorf("%w: device %s declares no address sets", ErrConfiguration, def.Name)
	}
	o := options{logger: zerolog.Nop(), collector: telemetry.Noop()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Accessor{
		name:      def.Name,
		transport: transport,
		store:     snapshot.NewStore(o.store...),
		sets:      make(map[Purpose]*plannedSet, len(def.Sets)),
		fields:    make(map[string]Field, len(def.Fields)),
		channels:  make(map[int]Field, len(def.Channels)),
		logger:    o.logger.With().Str("device", def.Name).Logger(),
		collector: o.collector,
	}

	maxLength := transport.MaxReadLength()
	for _, sd := range def.Sets {
		if _, dup := a.sets[sd.Purpose]; dup {
			return nil, fmt.Errorf("%w: device %s: purpose %q declared twice", ErrConfiguration, def.Name, sd.Purpose)
		}
		ranges, err := planSet(sd, maxLength)
		if err != nil {
			return nil, fmt.Errorf("%w: device %s: purpose %q: %w", ErrConfiguration, def.Name, sd.Purpose, err)
		}
		a.sets[sd.Purpose] = &plannedSet{def: sd, ranges: ranges}
		a.purposes = append(a.purposes, sd.Purpose)
	}

	for _, f := range def.Fields {
		if err := a.checkField(f); err != nil {
			return nil, err
		}
		if _, dup := a.fields[f.Name]; dup {
			return nil, fmt.Errorf("%w: device %s: field %s declared twice", ErrConfiguration, def.Name, f.Name)
		}
		a.fields[f.Name] = f
	}
	for _, ch := range def.Channels {
		if ch.Index < 0 {
			return nil, fmt.Errorf("%w: device %s: negative channel index %d", ErrConfiguration, def.Name, ch.Index)
		}
		if ch.Field.Kind != KindNumber {
			return nil, fmt.Errorf("%w: device %s: channel %d must be numeric", ErrConfiguration, def.Name, ch.Index)
		}
		if err := a.checkField(ch.Field); err != nil {
			return nil, err
		}
		if _, dup := a.channels[ch.Index]; dup {
			return nil, fmt.Errorf("%w: device %s: channel %d declared twice", ErrConfiguration, def.Name, ch.Index)
		}
		a.channels[ch.Index] = ch.Field
	}
	return a, nil
}

func planSet(sd SetDefinition, maxLength int) ([]regset.Range, error) {
	if err := sd.Set.Validate(); err != nil {
		return nil, err
	}
	if sd.Set.Len() == 0 {
		return nil, fmt.Errorf("%w: address set is empty", ErrConfiguration)
	}
	if sd.Mode == regset.ModeReduceRequests && sd.MaxGap != nil {
		return regset.CombineWithMaxGap(sd.Set, maxLength, *sd.MaxGap)
	}
	return regset.Plan(sd.Set, sd.Mode, maxLength)
}

// checkField validates f and makes sure some address set fetches every word
// it needs, so a field can never be permanently unavailable.
func (a *Accessor) checkField(f Field) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("device %s: %w", a.name, err)
	}
	for addr := f.Address; addr < f.Address+f.WordCount(); addr++ {
		covered := false
		for _, p := range a.sets {
			if p.def.Set.Contains(addr) {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Errorf("%w: device %s: field %s: address %d is not in any address set", ErrConfiguration, a.name, f.Name, addr)
		}
	}
	return nil
}

// Name returns the device name.
func (a *Accessor) Name() string {
	return a.name
}

// Purposes lists the declared purposes in declaration order.
func (a *Accessor) Purposes() []Purpose {
	return slices.Clone(a.purposes)
}

// AddressSet returns a copy of the addresses declared for purpose, or nil.
func (a *Accessor) AddressSet(purpose Purpose) *regset.AddressSet {
	p, ok := a.sets[purpose]
	if !ok {
		return nil
	}
	return regset.NewAddressSet().Union(p.def.Set)
}

// Ranges returns the reads Update issues for purpose.
func (a *Accessor) Ranges(purpose Purpose) []regset.Range {
	p, ok := a.sets[purpose]
	if !ok {
		return nil
	}
	return slices.Clone(p.ranges)
}

// Update reads every range of purpose and commits the words in a single
// transaction. It reports whether any word differs from the previous
// snapshot. On failure the returned error is a *TransportError and the
// previous snapshot stays in place.
func (a *Accessor) Update(ctx context.Context, purpose Purpose) (bool, error) {
	p, ok := a.sets[purpose]
	if !ok {
		return false, fmt.Errorf("%w: device %s has no %q address set", ErrConfiguration, a.name, purpose)
	}
	start := time.Now()
	reads := 0
	changed, err := a.store.PerformUpdate(ctx, func(w *snapshot.Working) (bool, error) {
		for _, r := range p.ranges {
			if err := ctx.Err(); err != nil {
				return false, &TransportError{Device: a.name, Purpose: purpose, Range: r, Err: err}
			}
			words, err := a.transport.ReadWords(ctx, r.Start, r.Length)
			reads++
			if err == nil && len(words) != r.Length {
				err = fmt.Errorf("%w: got %d words, want %d", ErrShortRead, len(words), r.Length)
			}
			if err != nil {
				a.logger.Error().Err(err).Str("purpose", string(purpose)).Stringer("range", r).Msg("register read failed")
				return false, &TransportError{Device: a.name, Purpose: purpose, Range: r, Err: err}
			}
			a.logger.Trace().Str("purpose", string(purpose)).Int("start", r.Start).Int("length", r.Length).Msg("register range read")
			w.SetWords(r.Start, words)
		}
		return w.Changed(), nil
	})
	if err != nil && !IsTransportError(err) {
		err = &TransportError{Device: a.name, Purpose: purpose, Err: err}
	}

	duration := time.Since(start)
	a.collector.IncRangeReads(a.name, string(purpose), reads)
	a.collector.ObserveUpdate(a.name, string(purpose), duration, err)
	if err != nil {
		return false, err
	}
	current := a.store.Current()
	a.collector.SetSnapshotWords(a.name, current.Len())
	a.logger.Trace().Str("purpose", string(purpose)).Bool("changed", changed).Uint64("version", current.Version()).Dur("duration", duration).Msg("update committed")
	return changed, nil
}

// UpdateAll updates every declared purpose in declaration order and stops at
// the first failure.
func (a *Accessor) UpdateAll(ctx context.Context) (bool, error) {
	changedAny := false
	for _, purpose := range a.purposes {
		changed, err := a.Update(ctx, purpose)
		if err != nil {
			return changedAny, err
		}
		changedAny = changedAny || changed
	}
	return changedAny, nil
}

// Snapshot returns the current immutable snapshot.
func (a *Accessor) Snapshot() *snapshot.Snapshot {
	return a.store.Copy()
}

// HasData reports whether any update has ever succeeded.
func (a *Accessor) HasData() bool {
	return a.store.Current().Version() > 0
}

// DataTimestamp returns the time of the last successful update, or the zero
// time before the first one.
func (a *Accessor) DataTimestamp() time.Time {
	return a.store.DataTimestamp()
}

// Field looks up a declared field by name.
func (a *Accessor) Field(name string) (Field, bool) {
	f, ok := a.fields[name]
	return f, ok
}

// GetNumber decodes the raw integer of f from the current snapshot.
func (a *Accessor) GetNumber(f Field) (decode.Number, bool) {
	if f.Kind != KindNumber {
		return decode.Number{}, false
	}
	return decode.Read(a.store.Current(), f.Address, f.Type)
}

// Number decodes the named field.
func (a *Accessor) Number(name string) (decode.Number, bool) {
	f, ok := a.fields[name]
	if !ok {
		return decode.Number{}, false
	}
	return a.GetNumber(f)
}

// GetValue decodes f and applies its calibration curve. Sentinel readings
// are unavailable.
func (a *Accessor) GetValue(f Field) (decimal.Decimal, bool) {
	if f.Kind != KindNumber {
		return decimal.Zero, false
	}
	return decode.Calibrate(a.store.Current(), f.Address, f.Type, f.Curve)
}

// Value is GetValue for the named field.
func (a *Accessor) Value(name string) (decimal.Decimal, bool) {
	f, ok := a.fields[name]
	if !ok {
		return decimal.Zero, false
	}
	return a.GetValue(f)
}

// GetASCII decodes the text block f.
func (a *Accessor) GetASCII(f Field, trim bool) (string, bool) {
	if f.Kind != KindASCII {
		return "", false
	}
	return decode.ASCII(a.store.Current(), f.Address, f.Words, trim)
}

// ASCII decodes the named text block.
func (a *Accessor) ASCII(name string, trim bool) (string, bool) {
	f, ok := a.fields[name]
	if !ok {
		return "", false
	}
	return a.GetASCII(f, trim)
}

// ChannelValue returns the calibrated value of channel index.
func (a *Accessor) ChannelValue(index int) (decimal.Decimal, bool) {
	f, ok := a.channels[index]
	if !ok {
		return decimal.Zero, false
	}
	return a.GetValue(f)
}

// ChannelField returns the field behind channel index.
func (a *Accessor) ChannelField(index int) (Field, bool) {
	f, ok := a.channels[index]
	return f, ok
}

// Channels returns the declared channel indices in ascending order.
func (a *Accessor) Channels() []int {
	out := make([]int, 0, len(a.channels))
	for idx := range a.channels {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

var _ Device = (*Accessor)(nil)
