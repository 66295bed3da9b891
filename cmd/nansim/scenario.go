package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nan-scheduler/internal/scheduler"
	"github.com/signalsfoundry/nan-scheduler/internal/wire"
	"github.com/signalsfoundry/nan-scheduler/model"
)

var validate = validator.New()

// Scenario is the YAML script of a simulation run: which peers show up,
// when, and what they advertise.
type Scenario struct {
	Ticks int            `yaml:"ticks" validate:"gte=0"`
	Peers []ScenarioPeer `yaml:"peers" validate:"required,min=1,dive"`
}

// ScenarioPeer is one remote device. Role is the local side of the
// negotiation with it.
type ScenarioPeer struct {
	MAC            string          `yaml:"mac" validate:"required,mac"`
	Role           string          `yaml:"role" validate:"required,oneof=initiator responder"`
	Type           string          `yaml:"type" validate:"omitempty,oneof=data_link ranging"`
	StartTick      int             `yaml:"start_tick" validate:"gte=0"`
	DropTick       int             `yaml:"drop_tick" validate:"gte=0"`
	SupportedBands []string        `yaml:"supported_bands" validate:"omitempty,max=3,dive,oneof=2g4 5g 6g"`
	Antennas       uint8           `yaml:"antennas" validate:"lte=8"`
	MinSlots       uint8           `yaml:"min_slots" validate:"lte=32"`
	MaxLatency     uint16          `yaml:"max_latency"`
	Availability   []ScenarioEntry `yaml:"availability" validate:"omitempty,max=16,dive"`
}

// ScenarioEntry is one availability entry. A specific channel is named by
// op_class and primary; otherwise bands builds a band selector. Offsets are
// repeated in every DW interval on top of the absolute slots.
type ScenarioEntry struct {
	MapID   uint8    `yaml:"map_id" validate:"lte=15"`
	Type    string   `yaml:"type" validate:"required,oneof=committed conditional potential"`
	OpClass uint8    `yaml:"op_class"`
	Primary uint8    `yaml:"primary"`
	Bands   []string `yaml:"bands" validate:"omitempty,dive,oneof=2g4 5g 6g"`
	Slots   []int    `yaml:"slots" validate:"omitempty,dive,gte=0,lt=512"`
	Offsets []int    `yaml:"offsets" validate:"omitempty,dive,gte=0,lt=32"`
}

var errScenario = errors.New("scenario: invalid")

func loadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := parseScenario(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func parseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if err := validate.Struct(sc); err != nil {
		return Scenario{}, fmt.Errorf("%w: %v", errScenario, err)
	}
	seen := make(map[model.MACAddress]bool)
	for i, p := range sc.Peers {
		mac, err := model.ParseMAC(p.MAC)
		if err != nil {
			return Scenario{}, fmt.Errorf("%w: peer %d: %v", errScenario, i, err)
		}
		if seen[mac] {
			return Scenario{}, fmt.Errorf("%w: peer %s listed twice", errScenario, mac)
		}
		seen[mac] = true
		if p.DropTick != 0 && p.DropTick <= p.StartTick {
			return Scenario{}, fmt.Errorf("%w: peer %s dropped before it starts", errScenario, mac)
		}
		if _, err := p.maps(); err != nil {
			return Scenario{}, fmt.Errorf("%w: peer %s: %v", errScenario, mac, err)
		}
	}
	return sc, nil
}

func (p ScenarioPeer) negoType() scheduler.NegoType {
	if p.Type == "ranging" {
		return scheduler.NegoRanging
	}
	return scheduler.NegoDataLink
}

func (p ScenarioPeer) role() scheduler.Role {
	if p.Role == "initiator" {
		return scheduler.RoleInitiator
	}
	return scheduler.RoleResponder
}

// maps groups the entries by map ID.
func (p ScenarioPeer) maps() ([]model.AvailabilityMap, error) {
	var out []model.AvailabilityMap
	index := make(map[uint8]int)
	for _, e := range p.Availability {
		entry, err := e.entry()
		if err != nil {
			return nil, err
		}
		i, ok := index[e.MapID]
		if !ok {
			if len(out) == model.MaxMaps {
				return nil, fmt.Errorf("more than %d availability maps", model.MaxMaps)
			}
			i = len(out)
			index[e.MapID] = i
			out = append(out, model.AvailabilityMap{MapID: e.MapID})
		}
		if len(out[i].Entries) == model.MaxEntriesPerMap {
			return nil, fmt.Errorf("map %d has more than %d entries", e.MapID, model.MaxEntriesPerMap)
		}
		out[i].Entries = append(out[i].Entries, entry)
	}
	return out, nil
}

func (e ScenarioEntry) entry() (model.AvailabilityEntry, error) {
	var ch model.ChannelDescriptor
	switch {
	case e.OpClass != 0:
		ch = model.NewChannel(e.OpClass, e.Primary)
	case len(e.Bands) > 0:
		mask, err := bandMask(e.Bands)
		if err != nil {
			return model.AvailabilityEntry{}, err
		}
		ch = model.NewBandSelector(mask)
	default:
		return model.AvailabilityEntry{}, errors.New("entry names neither a channel nor bands")
	}

	slots := model.BitmapFromSlots(e.Slots...)
	for w := 0; w < model.DWIntervals; w++ {
		for _, off := range e.Offsets {
			slots.Set(w*model.SlotsPerDW + off)
		}
	}
	if slots.IsZero() {
		return model.AvailabilityEntry{}, errors.New("entry has no slots")
	}

	var t model.EntryType
	switch e.Type {
	case "committed":
		t = model.EntryCommitted
	case "conditional":
		t = model.EntryConditional
	default:
		t = model.EntryPotential
	}
	return model.AvailabilityEntry{
		Control:  model.EntryControl{Type: t, RxNSS: 1, TimeBitmapPresent: true},
		Slots:    slots,
		Channels: []model.ChannelDescriptor{ch},
	}, nil
}

// attributes encodes what the peer announces besides availability: its
// device capability and its QoS requirement.
func (p ScenarioPeer) attributes() ([]byte, error) {
	var out []byte
	if len(p.SupportedBands) > 0 || p.Antennas > 0 {
		mask, err := bandMask(p.SupportedBands)
		if err != nil {
			return nil, err
		}
		raw, err := wire.DeviceCapability{SupportedBands: mask, Antennas: p.Antennas}.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	if p.MinSlots > 0 || p.MaxLatency > 0 {
		raw, err := wire.NDLQoS{MinSlots: p.MinSlots, MaxLatency: p.MaxLatency}.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	return out, nil
}

func bandMask(names []string) (model.BandMask, error) {
	var m model.BandMask
	for _, n := range names {
		b, err := model.ParseBand(n)
		if err != nil {
			return 0, err
		}
		m |= model.MaskOf(b)
	}
	return m, nil
}
