package device

import "github.com/yavdr/vdr/internal/contracts"

// NumOtherSlots bounds the general-purpose PID slots available alongside
// the six named ones (video, audio, dolby, teletext, subtitle, pcr).
const NumOtherSlots = 8

// pidHandle tracks one hardware filter's reference count. Invariant:
// useCount == 0 iff the slot is free iff pid == 0, except the PCR slot,
// which may legitimately carry pid == 0 while still counted in use.
type pidHandle struct {
	pid          contracts.PID
	pidType      contracts.PIDType
	useCount     int
	filterHandle int
	hasFilter    bool
}

func (h *pidHandle) free() bool {
	return h.useCount == 0
}

// pidHandleTable is a Device's fixed PID filter table: one slot each for
// video/audio/dolby/teletext/subtitle/pcr, plus NumOtherSlots general
// slots for everything else (data streams, additional audio tracks).
type pidHandleTable struct {
	video, audio, dolby, teletext, subtitle, pcr pidHandle
	other                                        [NumOtherSlots]pidHandle
}

func (t *pidHandleTable) named(pidType contracts.PIDType) *pidHandle {
	switch pidType {
	case contracts.PIDTypeVideo:
		return &t.video
	case contracts.PIDTypeAudio:
		return &t.audio
	case contracts.PIDTypeDolby:
		return &t.dolby
	case contracts.PIDTypeTeletext:
		return &t.teletext
	case contracts.PIDTypeSubtitle:
		return &t.subtitle
	case contracts.PIDTypePCR:
		return &t.pcr
	default:
		return nil
	}
}

// addResult reports what AddPID did, so callers can decide whether to
// (re)arm the hardware filter.
type addResult int

const (
	addFailed addResult = iota
	addFirstUse
	addRearmed // transitioned 1 -> 2 (reported only; no filter is re-armed here)
	addAlreadyOpen
)

// addPID increments the reference count for pid/pidType, allocating a
// free slot on first use. driverOpen is called to actually arm the
// hardware filter; it is only invoked on first use. The 1->2 transition
// is reported as addRearmed, but no filter is re-armed or re-opened for
// it.
func (t *pidHandleTable) addPID(pid contracts.PID, pidType contracts.PIDType, driverOpen func(pid contracts.PID, pidType contracts.PIDType) (handle int, ok bool)) addResult {
	h := t.named(pidType)
	if h != nil {
		return t.addNamed(h, pid, pidType, driverOpen)
	}
	return t.addOther(pid, pidType, driverOpen)
}

func (t *pidHandleTable) addNamed(h *pidHandle, pid contracts.PID, pidType contracts.PIDType, driverOpen func(contracts.PID, contracts.PIDType) (int, bool)) addResult {
	if h.useCount > 0 && h.pid == pid {
		h.useCount++
		if h.useCount == 2 {
			return addRearmed
		}
		return addAlreadyOpen
	}
	handle, ok := driverOpen(pid, pidType)
	if !ok {
		return addFailed
	}
	h.pid = pid
	h.pidType = pidType
	h.useCount = 1
	h.filterHandle = handle
	h.hasFilter = true
	return addFirstUse
}

func (t *pidHandleTable) addOther(pid contracts.PID, pidType contracts.PIDType, driverOpen func(contracts.PID, contracts.PIDType) (int, bool)) addResult {
	for i := range t.other {
		if t.other[i].useCount > 0 && t.other[i].pid == pid {
			t.other[i].useCount++
			if t.other[i].useCount == 2 {
				return addRearmed
			}
			return addAlreadyOpen
		}
	}
	for i := range t.other {
		if t.other[i].free() {
			handle, ok := driverOpen(pid, pidType)
			if !ok {
				return addFailed
			}
			t.other[i] = pidHandle{pid: pid, pidType: pidType, useCount: 1, filterHandle: handle, hasFilter: true}
			return addFirstUse
		}
	}
	return addFailed // PID table exhausted
}

// delPID decrements the reference count for pid, closing the hardware
// filter when it reaches zero. Returns false if pid was not found
// (caller error, harmless).
func (t *pidHandleTable) delPID(pid contracts.PID, driverClose func(handle int)) bool {
	for _, h := range t.allNamed() {
		if h.useCount > 0 && h.pid == pid {
			t.release(h, driverClose)
			return true
		}
	}
	for i := range t.other {
		if t.other[i].useCount > 0 && t.other[i].pid == pid {
			t.release(&t.other[i], driverClose)
			return true
		}
	}
	return false
}

func (t *pidHandleTable) release(h *pidHandle, driverClose func(handle int)) {
	h.useCount--
	if h.useCount <= 0 {
		if h.hasFilter && driverClose != nil {
			driverClose(h.filterHandle)
		}
		*h = pidHandle{}
	}
}

func (t *pidHandleTable) allNamed() []*pidHandle {
	return []*pidHandle{&t.video, &t.audio, &t.dolby, &t.teletext, &t.subtitle, &t.pcr}
}

// clear releases every slot and closes every open filter at once,
// regardless of use counts. DetachAll does not use it; it releases PIDs
// receiver by receiver.
func (t *pidHandleTable) clear(driverClose func(handle int)) {
	for _, h := range t.allNamed() {
		if h.hasFilter && driverClose != nil {
			driverClose(h.filterHandle)
		}
		*h = pidHandle{}
	}
	for i := range t.other {
		if t.other[i].hasFilter && driverClose != nil {
			driverClose(t.other[i].filterHandle)
		}
		t.other[i] = pidHandle{}
	}
}

// empty reports whether every slot is free, used by S1's invariant
// check (refcount conservation after matched attach/detach pairs).
func (t *pidHandleTable) empty() bool {
	for _, h := range t.allNamed() {
		if h.useCount != 0 {
			return false
		}
	}
	for i := range t.other {
		if t.other[i].useCount != 0 {
			return false
		}
	}
	return true
}
