package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/model"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
	if got := cfg.BandMask(); got != model.BandMask2G4|model.BandMask5G {
		t.Fatalf("BandMask = %v", got)
	}
	if got := cfg.Limits(); got.Peers != 8 || got.Records != 4 || got.NDCs != 4 {
		t.Fatalf("Limits = %+v", got)
	}
	if got := cfg.TimelineCapacity(); got.Committed != 4 || got.Conditional != 4 || got.Custom != 2 {
		t.Fatalf("TimelineCapacity = %+v", got)
	}
	pref := cfg.Preference()
	if len(pref) != 2 || pref[0] != model.Band5G || pref[1] != model.Band2G4 {
		t.Fatalf("Preference = %v, want [5G 2.4G]", pref)
	}
}

func TestParseNarrowedBandsKeepsDefaultPreference(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	for _, doc := range []string{"bands: [5g]\n", "bands: [2g4]\n", "bands: [6g]\n"} {
		cfg, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse(%q): %v", doc, err)
		}
		if pref := cfg.Preference(); len(pref) != 1 {
			t.Fatalf("Parse(%q).Preference = %v, want one band", doc, pref)
		}
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	data := []byte(`
bands: [2g4, 5g, 6g]
dual_radio: false
bandwidth:
  2g4: 40
  5g: 160
  6g: 320
quota:
  ndl_slots: 2
  ranging_slots: 0
  ndc_period: 2
qos:
  min_slots: 6
  max_latency: 10
preferred_bands: [6g]
fixed_channel:
  op_class: 115
  primary: 36
infrastructure:
  channel: {op_class: 81, primary: 6}
  slots: [20, 21]
capacity:
  committed: 6
  conditional: 6
  custom: 2
  peers: 16
  records: 8
  ndcs: 2
  transactions: 8
timers:
  dispatch_delay: 32ms
  availability_debounce: 1s
schedule_version: 3
log_level: debug
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DualRadio {
		t.Fatalf("dual_radio not applied")
	}
	if cfg.WidthFor(model.Band6G) != core.Width320 || cfg.WidthFor(model.Band2G4) != core.Width40 {
		t.Fatalf("widths not applied: %+v", cfg.Bandwidth)
	}
	pref := cfg.Preference()
	want := []model.Band{model.Band6G, model.Band5G, model.Band2G4}
	if len(pref) != len(want) {
		t.Fatalf("Preference = %v, want %v", pref, want)
	}
	for i := range want {
		if pref[i] != want[i] {
			t.Fatalf("Preference = %v, want %v", pref, want)
		}
	}
	fixed, ok := cfg.Fixed()
	if !ok || fixed != model.NewChannel(115, 36) {
		t.Fatalf("Fixed = %v, %v", fixed, ok)
	}
	ch, slots, ok := cfg.InfrastructureUse()
	if !ok || ch != model.NewChannel(81, 6) {
		t.Fatalf("InfrastructureUse channel = %v, %v", ch, ok)
	}
	if slots.Count() != 2*model.DWIntervals || !slots.Test(20) || !slots.Test(15*32+21) {
		t.Fatalf("infrastructure slots = %s", slots)
	}
	if q := cfg.DefaultQoS(); q.MinSlots != 6 || q.MaxLatency != 10 {
		t.Fatalf("DefaultQoS = %+v", q)
	}
	if tc := cfg.TimerConfig(); tc.DispatchDelay != 32*time.Millisecond || tc.AvailabilityDebounce != time.Second {
		t.Fatalf("TimerConfig = %+v", tc)
	}
	if cfg.Capacity.Transactions != 8 || cfg.ScheduleVersion != 3 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseEmptyYieldsDefaults(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if cfg.Quota.NDLSlots != Default().Quota.NDLSlots {
		t.Fatalf("empty document should keep defaults, got %+v", cfg.Quota)
	}
}

func TestParseRejects(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	cases := map[string]string{
		"unknown band":        "bands: [7g]\n",
		"no bands":            "bands: []\n",
		"bad width":           "bandwidth: {2g4: 80}\n",
		"zero quota":          "quota: {ndl_slots: 0}\n",
		"bad ndc period":      "quota: {ndc_period: 3}\n",
		"preferred disabled":  "preferred_bands: [6g]\n",
		"fixed on 6g":         "fixed_channel: {op_class: 131, primary: 37}\n",
		"fixed too wide":      "bandwidth: {5g: 20}\nfixed_channel: {op_class: 128, primary: 36}\n",
		"fixed not in class":  "fixed_channel: {op_class: 115, primary: 52}\n",
		"fixed not encodable": "bands: [6g]\nbandwidth: {6g: 20}\nfixed_channel: {op_class: 131, primary: 101}\n",
		"infra slot range":    "infrastructure: {channel: {op_class: 81, primary: 1}, slots: [32]}\n",
		"unknown key":         "bogus: 1\n",
		"bad log level":       "log_level: loud\n",
		"capacity zero peers": "capacity: {peers: 0}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", doc)
			}
		})
	}
}

func TestValidationErrorsWrapErrInvalid(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	_, err := Parse([]byte("quota: {ndl_slots: 99}\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLogLevelEnvOverride(t *testing.T) {
	t.Setenv(LogLevelEnv, "WARN")
	cfg, err := Parse([]byte("log_level: debug\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "nan.yaml")
	if err := os.WriteFile(path, []byte("quota: {ndl_slots: 8}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Quota.NDLSlots != 8 {
		t.Fatalf("NDLSlots = %d, want 8", cfg.Quota.NDLSlots)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("Load of a missing file succeeded")
	}
}
