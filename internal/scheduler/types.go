package scheduler

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// NegoType is what a negotiation sets up.
type NegoType uint8

const (
	NegoDataLink NegoType = iota
	NegoRanging
)

func (t NegoType) String() string {
	if t == NegoRanging {
		return "ranging"
	}
	return "data_link"
}

func (t NegoType) usage() kb.Usage {
	if t == NegoRanging {
		return kb.UsageRanging
	}
	return kb.UsageDataLink
}

type Role uint8

const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return "none"
}

// State is the negotiation state.
type State uint8

const (
	StateIdle State = iota
	StateInitiator
	StateResponder
	StateWaitResponse
	StateConfirm
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitiator:
		return "initiator"
	case StateResponder:
		return "responder"
	case StateWaitResponse:
		return "wait_response"
	case StateConfirm:
		return "confirm"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Verdict is the non-failing outcome of checking a remote proposal.
type Verdict uint8

const (
	VerdictAccept Verdict = iota + 1
	VerdictCounter
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictCounter:
		return "counter"
	}
	return "none"
}

// Grant is handed to the transaction owner when its negotiation starts, or
// when it could not be started.
type Grant struct {
	Peer   model.MACAddress
	Type   NegoType
	Role   Role
	Record int
	Err    error
}

// GrantFunc is the completion callback of a queued transaction.
type GrantFunc func(ctx context.Context, g Grant)

// Transaction is one queued negotiation request.
type Transaction struct {
	Peer    model.MACAddress
	Type    NegoType
	Role    Role
	Granted GrantFunc
}

// Override forces slots into or out of a granted window after the
// concurrency check. Exclude wins over Include.
type Override struct {
	Include model.Bitmap
	Exclude model.Bitmap
}

func (o Override) apply(b model.Bitmap) model.Bitmap {
	return b.Or(o.Include).AndNot(o.Exclude)
}

// ScheduleRecord is a read-only view of a peer schedule record.
type ScheduleRecord struct {
	Index     int
	Peer      model.MACAddress
	FAW       []model.Bitmap
	Granted   []int
	Band      model.Band
	NDC       model.NDCID
	Immutable model.Bitmap
	Ranging   model.Bitmap
	QoS       model.QoS
	Usage     kb.Usage
	Stations  []uint8
}
