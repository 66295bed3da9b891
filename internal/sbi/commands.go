package sbi

import (
	"encoding/binary"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/model"
)

// CommandType identifies a firmware command.
type CommandType uint8

const (
	CmdUpdateCRB CommandType = iota + 1
	CmdUpdateAvailability
	CmdUpdateAvailabilityControl
	CmdUpdatePeerCapability
	CmdManagePeerScheduleRecord
	CmdUpdatePotentialChannels
	CmdUpdatePHYSettings
	CmdSetScheduleVersion
)

var commandNames = map[CommandType]string{
	CmdUpdateCRB:                 "update_crb",
	CmdUpdateAvailability:        "update_availability",
	CmdUpdateAvailabilityControl: "update_availability_control",
	CmdUpdatePeerCapability:      "update_peer_capability",
	CmdManagePeerScheduleRecord:  "manage_peer_schedule_record",
	CmdUpdatePotentialChannels:   "update_potential_channels",
	CmdUpdatePHYSettings:         "update_phy_settings",
	CmdSetScheduleVersion:        "set_schedule_version",
}

func (t CommandType) String() string {
	if n, ok := commandNames[t]; ok {
		return n
	}
	return fmt.Sprintf("command(%d)", uint8(t))
}

// Command is one structured firmware payload. MarshalBinary produces the
// command ID byte followed by the body.
type Command interface {
	Type() CommandType
	MarshalBinary() ([]byte, error)
}

func appendBitmap(buf []byte, b model.Bitmap) []byte {
	for _, w := range b {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

// CRBEntry is one committed channel of a band timeline.
type CRBEntry struct {
	Channel model.ChannelDescriptor
	Slots   model.Bitmap
}

// UpdateCRB replaces the committed schedule of one band timeline.
type UpdateCRB struct {
	Timeline uint8
	Entries  []CRBEntry
}

func (UpdateCRB) Type() CommandType { return CmdUpdateCRB }

func (c UpdateCRB) MarshalBinary() ([]byte, error) {
	buf := []byte{byte(CmdUpdateCRB), c.Timeline, byte(len(c.Entries))}
	for _, e := range c.Entries {
		buf = binary.LittleEndian.AppendUint32(buf, e.Channel.Raw())
		buf = appendBitmap(buf, e.Slots)
	}
	return buf, nil
}

// UpdateAvailability carries the encoded availability attribute for one
// band timeline.
type UpdateAvailability struct {
	Timeline  uint8
	Attribute []byte
}

func (UpdateAvailability) Type() CommandType { return CmdUpdateAvailability }

func (c UpdateAvailability) MarshalBinary() ([]byte, error) {
	if len(c.Attribute) > 0xffff {
		return nil, fmt.Errorf("sbi: availability attribute too long: %d", len(c.Attribute))
	}
	buf := []byte{byte(CmdUpdateAvailability), c.Timeline}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(c.Attribute)))
	return append(buf, c.Attribute...), nil
}

// UpdateAvailabilityControl tells the firmware which parts of the
// advertised availability changed.
type UpdateAvailabilityControl struct {
	SequenceID       uint8
	CommittedChanged bool
	PotentialChanged bool
	NDCChanged       bool
}

func (UpdateAvailabilityControl) Type() CommandType { return CmdUpdateAvailabilityControl }

func (c UpdateAvailabilityControl) MarshalBinary() ([]byte, error) {
	var flags byte
	for bit, set := range []bool{c.CommittedChanged, c.PotentialChanged, c.NDCChanged} {
		if set {
			flags |= 1 << uint(bit)
		}
	}
	return []byte{byte(CmdUpdateAvailabilityControl), c.SequenceID, flags}, nil
}

// UpdatePeerCapability pushes what is known about a peer's radio.
type UpdatePeerCapability struct {
	Record         uint8
	MAC            model.MACAddress
	SupportedBands model.BandMask
	Antennas       uint8
}

func (UpdatePeerCapability) Type() CommandType { return CmdUpdatePeerCapability }

func (c UpdatePeerCapability) MarshalBinary() ([]byte, error) {
	buf := []byte{byte(CmdUpdatePeerCapability), c.Record}
	buf = append(buf, c.MAC[:]...)
	return append(buf, byte(c.SupportedBands), c.Antennas), nil
}

// RecordOp selects what ManagePeerScheduleRecord does.
type RecordOp uint8

const (
	RecordAdd RecordOp = iota + 1
	RecordUpdate
	RecordRemove
)

// ManagePeerScheduleRecord installs, refreshes or removes a peer schedule
// record in the firmware.
type ManagePeerScheduleRecord struct {
	Op        RecordOp
	Record    uint8
	MAC       model.MACAddress
	FAW       []model.Bitmap
	Immutable model.Bitmap
	QoS       model.QoS
	Stations  []uint8
}

func (ManagePeerScheduleRecord) Type() CommandType { return CmdManagePeerScheduleRecord }

func (c ManagePeerScheduleRecord) MarshalBinary() ([]byte, error) {
	buf := []byte{byte(CmdManagePeerScheduleRecord), byte(c.Op), c.Record}
	buf = append(buf, c.MAC[:]...)
	if c.Op == RecordRemove {
		return buf, nil
	}
	buf = append(buf, byte(len(c.FAW)))
	for _, b := range c.FAW {
		buf = appendBitmap(buf, b)
	}
	buf = appendBitmap(buf, c.Immutable)
	buf = append(buf, c.QoS.MinSlots)
	buf = binary.LittleEndian.AppendUint16(buf, c.QoS.MaxLatency)
	buf = append(buf, byte(len(c.Stations)))
	return append(buf, c.Stations...), nil
}

// UpdatePotentialChannels lists the channels advertised as potential on a
// band timeline.
type UpdatePotentialChannels struct {
	Timeline uint8
	Channels []model.ChannelDescriptor
}

func (UpdatePotentialChannels) Type() CommandType { return CmdUpdatePotentialChannels }

func (c UpdatePotentialChannels) MarshalBinary() ([]byte, error) {
	buf := []byte{byte(CmdUpdatePotentialChannels), c.Timeline, byte(len(c.Channels))}
	for _, ch := range c.Channels {
		buf = binary.LittleEndian.AppendUint32(buf, ch.Raw())
	}
	return buf, nil
}

// UpdatePHYSettings sets the link parameters of a record.
type UpdatePHYSettings struct {
	Record uint8
	Band   model.Band
	Width  uint16
	NSS    uint8
}

func (UpdatePHYSettings) Type() CommandType { return CmdUpdatePHYSettings }

func (c UpdatePHYSettings) MarshalBinary() ([]byte, error) {
	buf := []byte{byte(CmdUpdatePHYSettings), c.Record, byte(c.Band)}
	buf = binary.LittleEndian.AppendUint16(buf, c.Width)
	return append(buf, c.NSS), nil
}

// SetScheduleVersion announces the schedule format version once at start.
type SetScheduleVersion struct {
	Version uint8
}

func (SetScheduleVersion) Type() CommandType { return CmdSetScheduleVersion }

func (c SetScheduleVersion) MarshalBinary() ([]byte, error) {
	return []byte{byte(CmdSetScheduleVersion), c.Version}, nil
}
