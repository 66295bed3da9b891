// Package config loads the scheduler configuration: enabled bands and
// widths, default quotas and QoS, operator channel overrides, pool
// capacities and timer delays.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/internal/wire"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
	"github.com/signalsfoundry/nan-scheduler/timectrl"
)

// LogLevelEnv overrides Config.LogLevel when set.
const LogLevelEnv = "NAN_LOG_LEVEL"

var ErrInvalid = errors.New("config: invalid")

var validate = validator.New()

// Config is the scheduler configuration file.
type Config struct {
	Bands          []string        `yaml:"bands" validate:"required,min=1,max=3,dive,oneof=2g4 5g 6g"`
	DualRadio      bool            `yaml:"dual_radio"`
	Bandwidth      Bandwidth       `yaml:"bandwidth"`
	Quota          Quota           `yaml:"quota"`
	QoS            QoS             `yaml:"qos"`
	PreferredBands []string        `yaml:"preferred_bands" validate:"omitempty,max=3,dive,oneof=2g4 5g 6g"`
	FixedChannel   *Channel        `yaml:"fixed_channel,omitempty"`
	Infrastructure *Infrastructure `yaml:"infrastructure,omitempty"`
	// Interop allows an NDC on 2.4 GHz alone.
	Interop         bool     `yaml:"interop"`
	Capacity        Capacity `yaml:"capacity"`
	Timers          Timers   `yaml:"timers"`
	ScheduleVersion uint8    `yaml:"schedule_version"`
	LogLevel        string   `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Bandwidth is the widest channel allowed per band, in MHz.
type Bandwidth struct {
	Band2G4 int `yaml:"2g4" validate:"oneof=20 40"`
	Band5G  int `yaml:"5g" validate:"oneof=20 40 80 160"`
	Band6G  int `yaml:"6g" validate:"oneof=20 40 80 160 320"`
}

// Quota is the default number of slots per DW interval reserved for a link.
type Quota struct {
	NDLSlots     int `yaml:"ndl_slots" validate:"gte=1,lte=16"`
	RangingSlots int `yaml:"ranging_slots" validate:"gte=0,lte=16"`
	// NDCPeriod is the NDC base schedule stride in DW intervals.
	NDCPeriod int `yaml:"ndc_period" validate:"oneof=1 2 4 8 16"`
}

type QoS struct {
	MinSlots   uint8  `yaml:"min_slots" validate:"lte=32"`
	MaxLatency uint16 `yaml:"max_latency"`
}

// Channel names a specific channel by operating class and primary channel.
type Channel struct {
	OperatingClass uint8 `yaml:"op_class" validate:"required"`
	Primary        uint8 `yaml:"primary" validate:"required"`
}

// Infrastructure is a non-NAN (AP) channel sharing the radio. Slots are
// offsets inside every DW interval.
type Infrastructure struct {
	Channel Channel `yaml:"channel"`
	Slots   []int   `yaml:"slots" validate:"required,min=1,dive,gte=0,lt=32"`
}

type Capacity struct {
	Committed    int `yaml:"committed" validate:"gte=1,lte=16"`
	Conditional  int `yaml:"conditional" validate:"gte=1,lte=16"`
	Custom       int `yaml:"custom" validate:"gte=1,lte=16"`
	Peers        int `yaml:"peers" validate:"gte=1,lte=64"`
	Records      int `yaml:"records" validate:"gte=1,lte=32"`
	NDCs         int `yaml:"ndcs" validate:"gte=1,lte=32"`
	Transactions int `yaml:"transactions" validate:"gte=1,lte=32"`
}

type Timers struct {
	DispatchDelay        time.Duration `yaml:"dispatch_delay" validate:"gte=0"`
	AvailabilityDebounce time.Duration `yaml:"availability_debounce" validate:"gte=0"`
}

// Default returns a dual-radio 2.4/5 GHz configuration with the firmware
// pool sizes. PreferredBands stays empty so that any band set validates;
// Preference then falls back to 5, 6, 2.4 GHz order.
func Default() Config {
	timers := sbi.DefaultTimerConfig()
	return Config{
		Bands:          []string{"2g4", "5g"},
		DualRadio:      true,
		Bandwidth:      Bandwidth{Band2G4: 20, Band5G: 80, Band6G: 160},
		Quota:          Quota{NDLSlots: 4, RangingSlots: 1, NDCPeriod: 1},
		QoS:            QoS{MaxLatency: model.NoLatencyLimit},
		Capacity: Capacity{
			Committed:    timeline.DefaultCapacity.Committed,
			Conditional:  timeline.DefaultCapacity.Conditional,
			Custom:       timeline.DefaultCapacity.Custom,
			Peers:        kb.DefaultLimits.Peers,
			Records:      kb.DefaultLimits.Records,
			NDCs:         kb.DefaultLimits.NDCs,
			Transactions: 4,
		},
		Timers: Timers{
			DispatchDelay:        timers.DispatchDelay,
			AvailabilityDebounce: timers.AvailabilityDebounce,
		},
		ScheduleVersion: 1,
		LogLevel:        "info",
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default, applies the environment override and
// validates. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if lvl := strings.TrimSpace(os.Getenv(LogLevelEnv)); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	enabled := c.BandMask()
	for _, name := range c.PreferredBands {
		b, _ := model.ParseBand(name)
		if !enabled.Has(b) {
			return fmt.Errorf("%w: preferred band %s is not enabled", ErrInvalid, name)
		}
	}
	if c.FixedChannel != nil {
		ch, err := c.FixedChannel.descriptor()
		if err != nil {
			return fmt.Errorf("%w: fixed_channel: %v", ErrInvalid, err)
		}
		if !enabled.Has(core.BandOf(ch)) {
			return fmt.Errorf("%w: fixed_channel %s is on a disabled band", ErrInvalid, ch)
		}
		if core.WidthOf(ch) > c.WidthFor(core.BandOf(ch)) {
			return fmt.Errorf("%w: fixed_channel %s is wider than allowed", ErrInvalid, ch)
		}
		if !wire.Encodable(ch) {
			return fmt.Errorf("%w: fixed_channel %s has no bit in the availability channel bitmap", ErrInvalid, ch)
		}
	}
	if c.Infrastructure != nil {
		if _, err := c.Infrastructure.Channel.descriptor(); err != nil {
			return fmt.Errorf("%w: infrastructure: %v", ErrInvalid, err)
		}
	}
	return nil
}

func (ch Channel) descriptor() (model.ChannelDescriptor, error) {
	d := model.NewChannel(ch.OperatingClass, ch.Primary)
	if _, err := core.AllocationOf(d); err != nil {
		return model.ChannelDescriptor{}, err
	}
	return d, nil
}

// BandMask returns the enabled bands.
func (c Config) BandMask() model.BandMask {
	var m model.BandMask
	for _, name := range c.Bands {
		if b, err := model.ParseBand(name); err == nil {
			m |= model.MaskOf(b)
		}
	}
	return m
}

// Preference lists the enabled bands in preference order. Enabled bands
// missing from PreferredBands follow in 5, 6, 2.4 GHz order.
func (c Config) Preference() []model.Band {
	enabled := c.BandMask()
	var out []model.Band
	seen := model.BandMask(0)
	add := func(b model.Band) {
		if enabled.Has(b) && !seen.Has(b) {
			out = append(out, b)
			seen |= model.MaskOf(b)
		}
	}
	for _, name := range c.PreferredBands {
		if b, err := model.ParseBand(name); err == nil {
			add(b)
		}
	}
	for _, b := range []model.Band{model.Band5G, model.Band6G, model.Band2G4} {
		add(b)
	}
	return out
}

// WidthFor returns the widest allowed channel on b.
func (c Config) WidthFor(b model.Band) core.Width {
	var mhz int
	switch b {
	case model.Band2G4:
		mhz = c.Bandwidth.Band2G4
	case model.Band5G:
		mhz = c.Bandwidth.Band5G
	case model.Band6G:
		mhz = c.Bandwidth.Band6G
	}
	if mhz == 0 {
		return core.Width20
	}
	return core.Width(mhz)
}

// Fixed returns the operator-pinned channel, if any.
func (c Config) Fixed() (model.ChannelDescriptor, bool) {
	if c.FixedChannel == nil {
		return model.ChannelDescriptor{}, false
	}
	d, err := c.FixedChannel.descriptor()
	return d, err == nil
}

// InfrastructureUse returns the non-NAN channel and the slots it occupies
// over the whole window.
func (c Config) InfrastructureUse() (model.ChannelDescriptor, model.Bitmap, bool) {
	if c.Infrastructure == nil {
		return model.ChannelDescriptor{}, model.Bitmap{}, false
	}
	d, err := c.Infrastructure.Channel.descriptor()
	if err != nil {
		return model.ChannelDescriptor{}, model.Bitmap{}, false
	}
	var b model.Bitmap
	for w := 0; w < model.DWIntervals; w++ {
		for _, s := range c.Infrastructure.Slots {
			b.Set(w*model.SlotsPerDW + s)
		}
	}
	return d, b, true
}

func (c Config) DefaultQoS() model.QoS {
	return model.QoS{MinSlots: c.QoS.MinSlots, MaxLatency: c.QoS.MaxLatency}
}

func (c Config) TimelineCapacity() timeline.Capacity {
	return timeline.Capacity{
		Committed:   c.Capacity.Committed,
		Conditional: c.Capacity.Conditional,
		Custom:      c.Capacity.Custom,
	}
}

func (c Config) Limits() kb.Limits {
	return kb.Limits{Peers: c.Capacity.Peers, Records: c.Capacity.Records, NDCs: c.Capacity.NDCs}
}

func (c Config) TimerConfig() sbi.TimerConfig {
	t := sbi.TimerConfig{
		DispatchDelay:        c.Timers.DispatchDelay,
		AvailabilityDebounce: c.Timers.AvailabilityDebounce,
	}
	if t.DispatchDelay == 0 {
		t.DispatchDelay = timectrl.SlotDuration
	}
	return t
}
