package bus

import "time"

// Optional represents the tri-state "use default / explicitly unset /
// explicitly set" sentinel spec §6 calls for: the set flag distinguishes
// "inherit the parent tier's value" (false) from "this tier sets a value"
// (true), and among set values a zero value still reads as "disabled"
// (throttle=0) or "unbounded" (max_pending unset) per the field's own
// semantics — the sentinel only has to separate "inherit" from "set".
type Optional[T any] struct {
	set   bool
	value T
}

// Set returns an Optional carrying value.
func Set[T any](value T) Optional[T] {
	return Optional[T]{set: true, value: value}
}

// Unset returns an Optional meaning "inherit from the parent tier".
func Unset[T any]() Optional[T] {
	return Optional[T]{}
}

// Resolve returns the Optional's value if set, otherwise fallback.
func (o Optional[T]) Resolve(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}

// GlobalConfig is the outermost tier: process-wide defaults plus the
// logger and a log subsystem name, which exist only at this tier. It has
// no log-level setting.
type GlobalConfig struct {
	Timeout     time.Duration
	MaxPending  *int // nil = unbounded
	Throttle    float64
	Logger      Logger
	LogSubsystem string
}

// DefaultGlobalConfig mirrors the teacher's zero-value Config: no timeout,
// unbounded, throttle disabled, no logger.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		Timeout:      0,
		MaxPending:   nil,
		Throttle:     0,
		Logger:       nil,
		LogSubsystem: "bus",
	}
}

// BusConfig is the middle tier: a dup of GlobalConfig with explicit
// overrides applied. A Registry is constructed from one BusConfig and
// hands a resolved ChannelConfig to each Channel it creates.
type BusConfig struct {
	global     GlobalConfig
	Timeout    Optional[time.Duration]
	MaxPending Optional[*int]
	Throttle   Optional[float64]
}

// NewBusConfig resolves a BusConfig against the given global tier.
func NewBusConfig(global GlobalConfig) BusConfig {
	return BusConfig{global: global}
}

func (b BusConfig) resolvedTimeout() time.Duration {
	return b.Timeout.Resolve(b.global.Timeout)
}

func (b BusConfig) resolvedMaxPending() *int {
	return b.MaxPending.Resolve(b.global.MaxPending)
}

func (b BusConfig) resolvedThrottle() float64 {
	return b.Throttle.Resolve(b.global.Throttle)
}

func (b BusConfig) logger() Logger {
	if b.global.Logger == nil {
		return noopLogger{}
	}
	return b.global.Logger
}

// ChannelConfig is the innermost, channel-level tier, resolved against its
// owning BusConfig. Its Resolve output (a Resolved) is what actually
// reaches Channel's constructor — the Channel itself is unaware of the
// cascade above it, per spec §6.
type ChannelConfig struct {
	Name             string
	TypeConstraint   TypeConstraint
	Timeout          Optional[time.Duration]
	MaxPending       Optional[*int]
	ThrottleThresh   Optional[float64]
}

// Resolved flattens a ChannelConfig against its bus tier into the plain
// scalars a Channel constructor consumes.
type Resolved struct {
	Name           string
	TypeConstraint TypeConstraint
	Timeout        time.Duration
	MaxPending     *int
	Throttle       float64
	Logger         Logger
}

func (c ChannelConfig) Resolve(bus BusConfig) Resolved {
	return Resolved{
		Name:           c.Name,
		TypeConstraint: c.TypeConstraint,
		Timeout:        c.Timeout.Resolve(bus.resolvedTimeout()),
		MaxPending:     c.MaxPending.Resolve(bus.resolvedMaxPending()),
		Throttle:       c.ThrottleThresh.Resolve(bus.resolvedThrottle()),
		Logger:         bus.logger(),
	}
}
