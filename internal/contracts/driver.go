package contracts

// Driver is the hardware capability a Device wraps: tuning, delivery
// system identification, DVR/filter I/O. Replaces the original Device
// subclass hierarchy (DVB-S, DVB-T, dummy) with a single interface a
// concrete tuner package (drivers/srttuner, drivers/quictuner,
// drivers/dummy) implements. The Device struct holds the Decoder
// separately, since a Device without a decoder (a pure receiving/
// transfer-source device) is common.
type Driver interface {
	// ProvidesChannel reports whether this driver can tune channel at
	// the given priority. needsDetach is set true if doing so would
	// require detaching receivers already attached (e.g. retuning the
	// frontend).
	ProvidesChannel(ch *Channel, priority int) (ok bool, needsDetach bool)

	// ProvidesTransponder reports whether this driver is already tuned
	// (or could tune without disturbing current use) to ch's
	// transponder, used by the fast EPG-scan path.
	ProvidesTransponder(ch *Channel) bool

	// IsTunedToTransponder reports whether the frontend is right now
	// locked to ch's transponder.
	IsTunedToTransponder(ch *Channel) bool

	// MaySwitchTransponder reports whether retuning to ch's transponder
	// would disturb no current receiver or live view (e.g. the device
	// is otherwise idle).
	MaySwitchTransponder(ch *Channel) bool

	// DeliverySystems returns how many distinct delivery systems this
	// driver's hardware supports (used by the arbiter's single-system
	// preference).
	DeliverySystems() int

	// HasLock reports whether the frontend currently has signal lock.
	HasLock() bool

	// SetChannelDevice performs the actual tune. Returns false on
	// hardware rejection (scr_failed).
	SetChannelDevice(ch *Channel) bool

	OpenDVR() error
	CloseDVR()

	// GetTSPacket returns one 188-byte TS packet, or nil if none is
	// currently available (driver-defined timeout elapsed).
	GetTSPacket() []byte

	// SetPID arms or disarms a hardware PID filter. handle identifies
	// the filter instance for later disarming.
	SetPID(handle int, pid PID, pidType PIDType, on bool) bool

	OpenFilter(pid PID) (handle int, ok bool)
	CloseFilter(handle int)

	// AvoidRecording reports whether the arbiter should disprefer this
	// device for recording-priority requests (e.g. it's needed live).
	AvoidRecording() bool

	// HasCI reports whether this device has a built-in common-interface
	// slot (arbiter disprefers wasting CI-equipped hardware on FTA
	// channels when a non-CI device is available).
	HasCI() bool
}

// PIDType classifies a PID filter for the purposes of hardware
// re-arming semantics (tap mode on 1->2 use_count transitions for these
// slot kinds).
type PIDType int

const (
	PIDTypeVideo PIDType = iota
	PIDTypeAudio
	PIDTypeDolby
	PIDTypeTeletext
	PIDTypeSubtitle
	PIDTypePCR
	PIDTypeOther
)
