package model

// NoLatencyLimit is the wire value for "no maximum latency".
const NoLatencyLimit uint16 = 0xFFFF

// QoS is an NDL QoS requirement: a floor of slots per DW interval and a
// ceiling on the gap between consecutive usable slots, both in slots.
type QoS struct {
	MinSlots   uint8
	MaxLatency uint16
}

// Unbounded reports whether q places no constraint.
func (q QoS) Unbounded() bool {
	return q.MinSlots == 0 && (q.MaxLatency == 0 || q.MaxLatency == NoLatencyLimit)
}

// Merge negotiates two requirements: the larger floor and the tighter
// latency win. A zero latency means unspecified.
func (q QoS) Merge(o QoS) QoS {
	out := q
	if o.MinSlots > out.MinSlots {
		out.MinSlots = o.MinSlots
	}
	switch {
	case out.MaxLatency == 0 || out.MaxLatency == NoLatencyLimit:
		out.MaxLatency = o.MaxLatency
	case o.MaxLatency != 0 && o.MaxLatency != NoLatencyLimit && o.MaxLatency < out.MaxLatency:
		out.MaxLatency = o.MaxLatency
	}
	return out
}
