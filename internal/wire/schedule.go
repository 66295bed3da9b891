package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/model"
)

func appendScheduleEntries(buf []byte, entries []model.ScheduleEntry) ([]byte, error) {
	if len(entries) > model.MaxMaps {
		return nil, fmt.Errorf("%w: %d schedule entries", ErrTooManyEntries, len(entries))
	}
	for _, e := range entries {
		buf = append(buf, e.MapID)
		buf = EncodeTimeBitmap(e.Slots).AppendBinary(buf)
	}
	return buf, nil
}

func parseScheduleEntries(data []byte) ([]model.ScheduleEntry, error) {
	var out []model.ScheduleEntry
	for i := 0; i < len(data); {
		if len(out) == model.MaxMaps {
			return nil, fmt.Errorf("%w: more than %d schedule entries", ErrTooManyEntries, model.MaxMaps)
		}
		mapID := data[i]
		tb, n, err := ParseTimeBitmap(data[i+1:])
		if err != nil {
			return nil, err
		}
		out = append(out, model.ScheduleEntry{MapID: mapID, Slots: tb.Decode()})
		i += 1 + n
	}
	return out, nil
}

// Schedule is the schedule entry list carried by the NDL attribute
// (immutable schedule) and by the ranging schedule attribute.
type Schedule struct {
	Ranging bool
	Entries []model.ScheduleEntry
}

func (s Schedule) id() AttributeID {
	if s.Ranging {
		return AttrRangingSchedule
	}
	return AttrNDL
}

func (s Schedule) MarshalBinary() ([]byte, error) {
	b, err := appendScheduleEntries(nil, s.Entries)
	if err != nil {
		return nil, err
	}
	return AppendAttribute(nil, s.id(), b), nil
}

func (s *Schedule) UnmarshalBinary(data []byte) error {
	id, b, err := body(data, AttrNDL, AttrRangingSchedule)
	if err != nil {
		return err
	}
	entries, err := parseScheduleEntries(b)
	if err != nil {
		return err
	}
	*s = Schedule{Ranging: id == AttrRangingSchedule, Entries: entries}
	return nil
}

// Timeline unions the entry bitmaps.
func (s Schedule) Timeline() model.Bitmap {
	var out model.Bitmap
	for _, e := range s.Entries {
		out = out.Or(e.Slots)
	}
	return out
}

// NDLQoS is the NDL QoS attribute.
type NDLQoS struct {
	MinSlots   uint8
	MaxLatency uint16
}

func NDLQoSFrom(q model.QoS) NDLQoS { return NDLQoS{MinSlots: q.MinSlots, MaxLatency: q.MaxLatency} }

func (q NDLQoS) QoS() model.QoS { return model.QoS{MinSlots: q.MinSlots, MaxLatency: q.MaxLatency} }

func (q NDLQoS) MarshalBinary() ([]byte, error) {
	b := []byte{q.MinSlots}
	b = binary.LittleEndian.AppendUint16(b, q.MaxLatency)
	return AppendAttribute(nil, AttrNDLQoS, b), nil
}

func (q *NDLQoS) UnmarshalBinary(data []byte) error {
	_, b, err := body(data, AttrNDLQoS)
	if err != nil {
		return err
	}
	if len(b) != 3 {
		return fmt.Errorf("%w: ndl qos body length %d", ErrMalformed, len(b))
	}
	q.MinSlots = b[0]
	q.MaxLatency = binary.LittleEndian.Uint16(b[1:3])
	return nil
}

// NDC is the NAN Data Cluster attribute.
type NDC struct {
	ID       model.NDCID
	Selected bool
	Entries  []model.ScheduleEntry
}

func (n NDC) MarshalBinary() ([]byte, error) {
	b := append([]byte(nil), n.ID[:]...)
	var ctrl byte
	if n.Selected {
		ctrl |= 1
	}
	b = append(b, ctrl)
	b, err := appendScheduleEntries(b, n.Entries)
	if err != nil {
		return nil, err
	}
	return AppendAttribute(nil, AttrNDC, b), nil
}

func (n *NDC) UnmarshalBinary(data []byte) error {
	_, b, err := body(data, AttrNDC)
	if err != nil {
		return err
	}
	if len(b) < 7 {
		return fmt.Errorf("%w: ndc header", ErrTruncated)
	}
	entries, err := parseScheduleEntries(b[7:])
	if err != nil {
		return err
	}
	var id model.NDCID
	copy(id[:], b[:6])
	*n = NDC{ID: id, Selected: b[6]&1 != 0, Entries: entries}
	return nil
}

// Timeline unions the NDC schedule bitmaps.
func (n NDC) Timeline() model.Bitmap {
	return Schedule{Entries: n.Entries}.Timeline()
}

// DeviceCapability is the NAN Device Capability attribute.
type DeviceCapability struct {
	MapID                uint8
	CommittedDWInfo      uint16
	SupportedBands       model.BandMask
	OperationMode        uint8
	Antennas             uint8
	MaxChannelSwitchTime uint16
	Capabilities         uint8
}

const deviceCapabilityLen = 9

func (d DeviceCapability) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, deviceCapabilityLen)
	b = append(b, d.MapID)
	b = binary.LittleEndian.AppendUint16(b, d.CommittedDWInfo)
	b = append(b, byte(d.SupportedBands), d.OperationMode, d.Antennas)
	b = binary.LittleEndian.AppendUint16(b, d.MaxChannelSwitchTime)
	b = append(b, d.Capabilities)
	return AppendAttribute(nil, AttrDeviceCapability, b), nil
}

func (d *DeviceCapability) UnmarshalBinary(data []byte) error {
	_, b, err := body(data, AttrDeviceCapability)
	if err != nil {
		return err
	}
	if len(b) < deviceCapabilityLen {
		return fmt.Errorf("%w: device capability body length %d", ErrTruncated, len(b))
	}
	*d = DeviceCapability{
		MapID:                b[0],
		CommittedDWInfo:      binary.LittleEndian.Uint16(b[1:3]),
		SupportedBands:       model.BandMask(b[3]),
		OperationMode:        b[4],
		Antennas:             b[5],
		MaxChannelSwitchTime: binary.LittleEndian.Uint16(b[6:8]),
		Capabilities:         b[8],
	}
	return nil
}
