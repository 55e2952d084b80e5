package device

import "sync"

// ps1LegacyThreshold is the number of consecutive unrecognized PS1
// (stream_id 0xBD) sub-streams after which the device assumes it is
// replaying a pre-1.3.19 recording that never wrote proper sub-stream
// ids, and starts treating every 0xBD packet as AC3 mono.
const ps1LegacyThreshold = 10

// ps1State tracks the private-stream-1 compatibility counter. The
// original increments/decrements this counter from inside a
// goto-reached block; here it is just a plain saturating counter on
// Device state, since Go's control flow has no equivalent re-entry
// hazard to worry about — observe is called exactly once per PS1
// packet, synchronously, from playPS1Packet on the decoder-feed path
// that classifies it.
type ps1State struct {
	mu      sync.Mutex
	counter int
	legacy  bool
}

// observe records one PS1 packet's classification outcome and returns
// whether legacy mode is now active. known packets count the counter
// back down toward zero (exiting legacy mode once it reaches zero);
// unknown packets count it up, entering legacy mode once it exceeds
// ps1LegacyThreshold.
func (p *ps1State) observe(known bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if known {
		if p.counter > 0 {
			p.counter--
		}
		if p.counter == 0 {
			p.legacy = false
		}
	} else {
		p.counter++
		if p.counter > ps1LegacyThreshold {
			p.legacy = true
		}
	}
	return p.legacy
}

// Legacy reports whether legacy PS1 compatibility mode is currently
// active.
func (p *ps1State) Legacy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legacy
}

// reset clears the counter, used on channel switch.
func (p *ps1State) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter = 0
	p.legacy = false
}
