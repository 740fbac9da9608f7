package call

import (
	"testing"
	"time"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		wantErr  bool
	}{
		{StatusIdle, StatusRinging, false},
		{StatusRinging, StatusConnected, false},
		{StatusRinging, StatusIdle, false},
		{StatusConnected, StatusIdle, false},
		{StatusIdle, StatusConnected, true},
		{StatusConnected, StatusRinging, true},
		{StatusIdle, StatusIdle, true},
	}

	for _, tt := range tests {
		err := checkTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkTransition(%s, %s) err = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestCallRemote(t *testing.T) {
	out := &Call{Caller: "me", Recipient: "bob", Outgoing: true}
	if got := out.Remote(); got != "bob" {
		t.Errorf("outgoing Remote() = %q, want %q", got, "bob")
	}
	in := &Call{Caller: "alice", Recipient: "me", Outgoing: false}
	if got := in.Remote(); got != "alice" {
		t.Errorf("incoming Remote() = %q, want %q", got, "alice")
	}
}

func TestSnapshotDuration(t *testing.T) {
	now := time.Now()

	var idle Snapshot
	if d := idle.Duration(now); d != 0 {
		t.Errorf("Duration before connect = %v, want 0", d)
	}

	connected := Snapshot{ConnectedAt: now.Add(-90 * time.Second)}
	if d := connected.Duration(now); d != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d)
	}
}
