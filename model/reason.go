package model

// ReasonCode is carried in the rejection attribute when a negotiation fails.
type ReasonCode uint8

const (
	ReasonNone                  ReasonCode = 0
	ReasonUnspecified           ReasonCode = 1
	ReasonResourceLimitation    ReasonCode = 2
	ReasonInvalidParameters     ReasonCode = 3
	ReasonInvalidAvailability   ReasonCode = 6
	ReasonImmutableUnacceptable ReasonCode = 7
	ReasonQoSUnacceptable       ReasonCode = 9
	ReasonNDPRejected           ReasonCode = 10
	ReasonNDLUnacceptable       ReasonCode = 11
	ReasonRangingUnacceptable   ReasonCode = 12
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnspecified:
		return "unspecified"
	case ReasonResourceLimitation:
		return "resource_limitation"
	case ReasonInvalidParameters:
		return "invalid_parameters"
	case ReasonInvalidAvailability:
		return "invalid_availability"
	case ReasonImmutableUnacceptable:
		return "immutable_unacceptable"
	case ReasonQoSUnacceptable:
		return "qos_unacceptable"
	case ReasonNDPRejected:
		return "ndp_rejected"
	case ReasonNDLUnacceptable:
		return "ndl_unacceptable"
	case ReasonRangingUnacceptable:
		return "ranging_unacceptable"
	}
	return "unknown"
}
