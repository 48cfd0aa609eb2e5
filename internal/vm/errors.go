package vm

import "errors"

// Setup-time errors (component A/B bind-time conditions). These abort
// VM bring-up; they never occur on the CPU hot path.
var (
	ErrOutOfSlots      = errors.New("vm: out of device slots")
	ErrOverlappingDev  = errors.New("vm: overlapping CACHING device range")
	ErrDeviceNotBound  = errors.New("vm: device not bound to this vm")
	ErrGhostUnavailable = errors.New("vm: ghost image unavailable")
	ErrMapFailed       = errors.New("vm: unable to map file")
)

// FaultKind enumerates the translation-exception taxonomy raised to a
// CPU dispatch loop. Device-handler errors that cannot be represented
// architecturally are logged and either drop the access or halt the VM;
// they never use this type.
type FaultKind uint8

const (
	FaultNone FaultKind = iota
	FaultAddressError
	FaultTLBMiss
	FaultBATMiss
	FaultSegmentMiss
	FaultUndefinedMemory
	FaultBusFault
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultAddressError:
		return "address-error"
	case FaultTLBMiss:
		return "tlb-miss"
	case FaultBATMiss:
		return "bat-miss"
	case FaultSegmentMiss:
		return "segment-miss"
	case FaultUndefinedMemory:
		return "undefined-memory"
	case FaultBusFault:
		return "bus-fault"
	default:
		return "unknown-fault"
	}
}

// Fault carries enough detail for an architecture's exception-raising
// code to populate BadVAddr/DSISR/DAR and pick a vector.
type Fault struct {
	Kind    FaultKind
	Addr    uint64
	IsWrite bool
}

func (f *Fault) Error() string {
	if f == nil {
		return "<nil fault>"
	}
	return f.Kind.String()
}
