// Package wire holds the byte-level codecs for the NAN attributes exchanged
// during schedule negotiation. Every codec works over explicit offsets; no
// in-memory struct layout is relied upon.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AttributeID is the one-byte NAN attribute identifier.
type AttributeID uint8

const (
	AttrDeviceCapability AttributeID = 0x0F
	AttrNDL              AttributeID = 0x10
	AttrNDLQoS           AttributeID = 0x11
	AttrAvailability     AttributeID = 0x12
	AttrNDC              AttributeID = 0x13
	AttrRangingSchedule  AttributeID = 0x1B
)

func (id AttributeID) String() string {
	switch id {
	case AttrDeviceCapability:
		return "device_capability"
	case AttrNDL:
		return "ndl"
	case AttrNDLQoS:
		return "ndl_qos"
	case AttrAvailability:
		return "availability"
	case AttrNDC:
		return "ndc"
	case AttrRangingSchedule:
		return "ranging_schedule"
	}
	return fmt.Sprintf("attr(%#02x)", uint8(id))
}

// HeaderLen is the size of the attribute ID plus the little-endian length.
const HeaderLen = 3

var (
	ErrTruncated           = errors.New("wire: truncated attribute")
	ErrMalformed           = errors.New("wire: malformed attribute")
	ErrUnexpectedAttribute = errors.New("wire: unexpected attribute id")
	ErrTooManyEntries      = errors.New("wire: too many entries")
	ErrChannelNotEncodable = errors.New("wire: channel not encodable")
)

// Attribute is one framed attribute with its body.
type Attribute struct {
	ID   AttributeID
	Body []byte
}

// AppendAttribute frames body under id and appends it to buf.
func AppendAttribute(buf []byte, id AttributeID, body []byte) []byte {
	buf = append(buf, byte(id))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(body)))
	return append(buf, body...)
}

// ParseAttributes splits a concatenation of attributes. Unknown IDs are
// preserved.
func ParseAttributes(data []byte) ([]Attribute, error) {
	var out []Attribute
	for i := 0; i < len(data); {
		if len(data)-i < HeaderLen {
			return nil, fmt.Errorf("%w: header at offset %d", ErrTruncated, i)
		}
		id := AttributeID(data[i])
		n := int(binary.LittleEndian.Uint16(data[i+1 : i+3]))
		i += HeaderLen
		if len(data)-i < n {
			return nil, fmt.Errorf("%w: %s body wants %d bytes", ErrTruncated, id, n)
		}
		body := make([]byte, n)
		copy(body, data[i:i+n])
		out = append(out, Attribute{ID: id, Body: body})
		i += n
	}
	return out, nil
}

// body checks the framing of a single attribute and returns its body.
func body(data []byte, want ...AttributeID) (AttributeID, []byte, error) {
	attrs, err := ParseAttributes(data)
	if err != nil {
		return 0, nil, err
	}
	if len(attrs) != 1 {
		return 0, nil, fmt.Errorf("%w: expected one attribute, got %d", ErrMalformed, len(attrs))
	}
	for _, id := range want {
		if attrs[0].ID == id {
			return id, attrs[0].Body, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %s", ErrUnexpectedAttribute, attrs[0].ID)
}
