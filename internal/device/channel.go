package device

import "github.com/yavdr/vdr/internal/contracts"

// SetChannel tunes the device to ch. If the device cannot provide the
// channel and this is a live-view request, it dispatches to Transfer
// mode via the wired TransferDispatcher; otherwise it stops section
// handling, informs the CAM, retunes the driver, restarts section
// handling, and starts CAM decryption. On success for live view it
// updates the track tables and selects audio/subtitle per language
// preference.
func (d *Device) SetChannel(ch *contracts.Channel, liveView bool) SetChannelResult {
	d.channelMu.Lock()
	defer d.channelMu.Unlock()

	ok, needsDetach := false, false
	if d.Driver != nil {
		ok, needsDetach = d.Driver.ProvidesChannel(ch, d.Priority())
	}
	if !ok {
		if liveView && d.transferDispatcher != nil {
			if d.transferDispatcher.DispatchTransfer(ch, d.Priority()) {
				d.currentChannel = ch
				return ScrOK
			}
			d.log.Warn("transfer dispatch failed", "channel", ch.ID)
			return ScrNoTransfer
		}
		return ScrNotAvailable
	}

	if needsDetach {
		d.DetachAll()
	}

	d.patpmt.Reset()
	d.videoReasm.Reset()
	d.audioReasm.Reset()
	d.subtitleReasm.Reset()
	d.ps1.reset()
	d.scramble.reset()

	if d.camSlot != nil {
		d.camSlot.SetPID(ch.VideoPID, false)
	}

	if d.Driver != nil && !d.Driver.SetChannelDevice(ch) {
		return ScrFailed
	}

	d.currentChannel = ch

	if d.camSlot != nil {
		d.camSlot.StartDecrypting()
	}

	if liveView {
		d.updateTracksLocked(ch)
		d.ensureAudioTrack(false)
		d.ensureSubtitleTrack()
	}

	return ScrOK
}

// SwitchChannel retries SetChannel up to 3 times on ScrFailed and
// surfaces user-visible failures via skin. skin may be nil (tests, or a
// headless caller that handles messaging itself).
func (d *Device) SwitchChannel(ch *contracts.Channel, liveView bool, skin contracts.SkinMessage) SetChannelResult {
	var result SetChannelResult
	for attempt := 0; attempt < 3; attempt++ {
		result = d.SetChannel(ch, liveView)
		if result != ScrFailed {
			break
		}
		d.log.Warn("set channel failed, retrying", "channel", ch.ID, "attempt", attempt+1)
	}
	if skin == nil {
		return result
	}
	switch result {
	case ScrNotAvailable:
		skin.Message(contracts.LevelError, "Channel not available!")
	case ScrNoTransfer:
		skin.Message(contracts.LevelError, "Can't start Transfer Mode!")
	}
	return result
}

func (d *Device) updateTracksLocked(ch *contracts.Channel) {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()

	audioTracks := make([]Track, 0, len(ch.Audio))
	for _, a := range ch.Audio {
		audioTracks = append(audioTracks, Track{Kind: contracts.TrackAudio, PID: a.PID, Language: a.Language})
	}
	d.audio.Set(audioTracks)

	dolbyTracks := make([]Track, 0, len(ch.Dolby))
	for _, a := range ch.Dolby {
		dolbyTracks = append(dolbyTracks, Track{Kind: contracts.TrackDolby, PID: a.PID, Language: a.Language})
	}
	d.dolby.Set(dolbyTracks)

	subTracks := make([]Track, 0, len(ch.Subtitle))
	for _, s := range ch.Subtitle {
		subTracks = append(subTracks, Track{Kind: contracts.TrackSubtitle, PID: s.PID, Language: s.Language})
	}
	d.subtitle.Set(subTracks)
}

// SetCurrentAudioTrack selects audio track index t (either the normal or
// Dolby table, per PreferDolby precedence already baked into the
// index by EnsureAudioTrack).
func (d *Device) SetCurrentAudioTrack(useDolby bool, t int) {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	if useDolby {
		d.dolby.SetCurrent(t)
	} else {
		d.audio.SetCurrent(t)
	}
	if d.Decoder != nil {
		table := d.audio
		if useDolby {
			table = d.dolby
		}
		if tr, ok := table.At(t); ok {
			d.Decoder.PlayAudio(tr.PID)
		}
	}
}

// SetCurrentSubtitleTrack selects subtitle track index t. manual marks
// this as a user-initiated choice and is stored in liveSubtitle; no other
// device code reads that flag.
func (d *Device) SetCurrentSubtitleTrack(t int, manual bool) {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	d.subtitle.SetCurrent(t)
	d.liveSubtitle = manual
	if d.Decoder != nil {
		if tr, ok := d.subtitle.At(t); ok {
			d.Decoder.PlaySubtitle(tr.PID)
		}
	}
}

// EnsureAudioTrack selects an audio track by language preference (Dolby
// first if PreferDolby, else normal audio first), forcing a reselect
// even if one is already current when force is true.
func (d *Device) EnsureAudioTrack(force bool) {
	d.trackMu.Lock()
	hasCurrent := d.audio.Current() >= 0 || d.dolby.Current() >= 0
	d.trackMu.Unlock()
	if hasCurrent && !force {
		return
	}
	d.ensureAudioTrack(force)
}

func (d *Device) ensureAudioTrack(force bool) {
	d.trackMu.Lock()
	prefs := d.langPrefs.Audio
	preferDolby := d.langPrefs.PreferDolby
	d.trackMu.Unlock()

	if preferDolby {
		d.trackMu.Lock()
		idx := d.dolby.IndexByLanguagePreference(prefs)
		d.trackMu.Unlock()
		if idx >= 0 {
			d.SetCurrentAudioTrack(true, idx)
			return
		}
	}
	d.trackMu.Lock()
	idx := d.audio.IndexByLanguagePreference(prefs)
	d.trackMu.Unlock()
	if idx >= 0 {
		d.SetCurrentAudioTrack(false, idx)
		return
	}
	if !preferDolby {
		d.trackMu.Lock()
		idx := d.dolby.IndexByLanguagePreference(prefs)
		d.trackMu.Unlock()
		if idx >= 0 {
			d.SetCurrentAudioTrack(true, idx)
		}
	}
}

// EnsureSubtitleTrack selects a subtitle track by language preference,
// falling back to the first track when none match. It does nothing when
// no subtitle languages are configured or the table is empty; it never
// clears an existing selection.
func (d *Device) EnsureSubtitleTrack() {
	d.ensureSubtitleTrack()
}

func (d *Device) ensureSubtitleTrack() {
	d.trackMu.Lock()
	prefs := d.langPrefs.Subtitle
	d.trackMu.Unlock()
	if len(prefs) == 0 {
		return
	}
	d.trackMu.Lock()
	idx := d.subtitle.IndexByLanguagePreference(prefs)
	d.trackMu.Unlock()
	if idx >= 0 {
		d.SetCurrentSubtitleTrack(idx, false)
	}
}
