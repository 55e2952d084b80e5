package dummy

import "testing"

func TestDriver_AlwaysProvidesAndNeverDelivers(t *testing.T) {
	t.Parallel()
	d := New()

	ok, needsDetach := d.ProvidesChannel(nil, 0)
	if !ok || needsDetach {
		t.Fatalf("ProvidesChannel = (%v, %v), want (true, false)", ok, needsDetach)
	}
	if !d.SetChannelDevice(nil) {
		t.Fatal("SetChannelDevice = false, want true")
	}
	if err := d.OpenDVR(); err != nil {
		t.Fatalf("OpenDVR error = %v", err)
	}
	if pkt := d.GetTSPacket(); pkt != nil {
		t.Fatalf("GetTSPacket = %v, want nil (no signal)", pkt)
	}
	d.CloseDVR()
}

func TestDriver_FilterHandlesAreUnique(t *testing.T) {
	t.Parallel()
	d := New()
	h1, _ := d.OpenFilter(100)
	h2, _ := d.OpenFilter(200)
	if h1 == h2 {
		t.Fatal("OpenFilter returned duplicate handles")
	}
	d.CloseFilter(h1)
	if _, present := d.filters[h1]; present {
		t.Fatal("CloseFilter did not remove handle")
	}
}
