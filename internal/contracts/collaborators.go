package contracts

import "context"

// ChannelCatalog resolves channel numbers/ids to Channel data. Owned and
// implemented outside the core (EPG/channel-list management).
type ChannelCatalog interface {
	ByNumber(n int) (*Channel, bool)
	ByID(id string) (*Channel, bool)
}

// ModuleStatus mirrors a CAM slot's physical readiness.
type ModuleStatus int

const (
	ModuleNone ModuleStatus = iota
	ModuleReset
	ModulePresent
	ModuleReady
)

// CamSlot is one conditional-access module slot. The core only ever
// calls these methods; slot enumeration, insertion/removal, and MMI are
// entirely external.
type CamSlot interface {
	Index() int
	SlotNumber() int
	Priority() int
	ModuleStatus() ModuleStatus
	ProvidesCA(caids []uint16) bool
	// Assign binds the slot to device d. probe requests a dry-run check
	// without actually reassigning. Returns false if the slot refuses
	// (e.g. hardware can't route to d).
	Assign(device any, probe bool) bool
	Device() any // the device currently assigned, or nil
	StartDecrypting()
	SetPID(pid PID, on bool)
	IsDecrypting() bool
}

// CamSlotRegistry enumerates the process's CAM slots.
type CamSlotRegistry interface {
	Count() int
	Slot(index int) CamSlot
	All() []CamSlot
}

// ChannelCamRelations tracks, per channel and CAM slot, whether the slot
// has been checked against that channel and whether it successfully
// decrypts it. Persisted externally so repeated tuning attempts don't
// re-probe a CAM known not to work.
type ChannelCamRelations interface {
	CamChecked(channelID string, slot int) bool
	CamDecrypt(channelID string, slot int) bool
	SetChecked(channelID string, slot int)
	SetDecrypt(channelID string, slot int, decrypt bool)
}

// FrameLocator is the position of one frame in the recording's file
// sequence.
type FrameLocator struct {
	FileNumber  int
	FileOffset  int64
	Independent bool
	// Length is the number of bytes to read; -1 means "read to EOF of
	// the current file."
	Length int
}

// RecordingIndex maps frame indices to file positions for a recording
// being replayed. Implemented externally (index-file parsing, or a
// live-recording variant that keeps extending as IsStillRecording).
type RecordingIndex interface {
	Get(frame int) (FrameLocator, bool)
	GetNextIFrame(frame int, forward bool) (nextFrame int, loc FrameLocator, ok bool)
	Last() int
	GetResume() (frame int, ok bool)
	StoreResume(frame int)
	OK() bool
	IsStillRecording() bool
}

// StatusSink receives informational notifications about channel
// switches and volume changes for on-screen/OSD display. Entirely
// external; the core never blocks on it.
type StatusSink interface {
	ChannelSwitch(deviceIndex int, channelNumber int, liveView bool)
	SetVolume(delta int, absolute bool)
}

// MessageLevel mirrors the skin's severity levels for SkinMessage.
type MessageLevel int

const (
	LevelInfo MessageLevel = iota
	LevelWarning
	LevelError
)

// SkinMessage is the sole path for user-visible core failures: "Channel
// not available" and "Can't start Transfer Mode" (spec.md §7).
type SkinMessage interface {
	Message(level MessageLevel, text string)
}

// Decoder is the opaque hardware decoder sink the playback engine and
// Device.play_ts/play_pes feed. It never decodes anything itself as far
// as the core is concerned — just accepts PES/TS bytes and reports STC.
type Decoder interface {
	PlayTS(data []byte, videoOnly bool) (int, error)
	PlayPES(data []byte, videoOnly bool) (int, error)
	PlayVideo(pid PID) error
	PlayAudio(pid PID) error
	PlaySubtitle(pid PID) error
	SetPlayMode(on bool) error
	TrickSpeed(speed int) error
	Clear() error
	Play() error
	Freeze() error
	Mute(on bool) error
	StillPicture(data []byte) error
	STC() int64
	Poll(ctx context.Context, timeoutMS int) bool
	Flush() error
	HasIBPTrickSpeed() bool
	IsPlayingVideo() bool
}
