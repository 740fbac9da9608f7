package views

import (
	"fmt"
	"time"

	"github.com/glintapp/glint/internal/call"
	"github.com/rivo/tview"
)

// CallView renders the live call screen: who, direction, connection state
// and the in-call controls.
type CallView struct {
	*tview.TextView
	snap call.Snapshot
}

// NewCallView creates a new call view.
func NewCallView() *CallView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true).SetTitle(" Call ")

	return &CallView{TextView: tv}
}

// Update re-renders from a machine snapshot.
func (cv *CallView) Update(snap call.Snapshot) {
	cv.snap = snap
	cv.render()
}

// Tick re-renders the duration clock without a new snapshot.
func (cv *CallView) Tick() {
	if cv.snap.Status == call.StatusConnected {
		cv.render()
	}
}

func (cv *CallView) render() {
	cv.Clear()

	snap := cv.snap
	if snap.Call == nil {
		_, _ = fmt.Fprint(cv, "\n\nNo active call")
		return
	}

	remote := snap.Call.Remote()
	var body string
	switch snap.Status {
	case call.StatusRinging:
		if snap.Call.Outgoing {
			body = fmt.Sprintf("\n\nCalling [::b]%s[-:-:-] (%s)...\n\n[::d]h:hang up[-:-:-]", remote, snap.Call.Type)
		} else {
			body = fmt.Sprintf("\n\n[::b]%s[-:-:-] is calling (%s)\n\n[::d]a:accept  d:decline[-:-:-]", remote, snap.Call.Type)
		}
	case call.StatusConnected:
		dur := snap.Duration(time.Now()).Round(time.Second)
		mic := "on"
		if snap.Muted {
			mic = "[red]muted[-]"
		}
		cam := "on"
		if snap.CameraOff {
			cam = "off"
		}
		link := "[yellow]connecting media[-]"
		if snap.RemoteLive {
			link = "[green]live[-]"
		}
		body = fmt.Sprintf("\n\nOn a %s call with [::b]%s[-:-:-]\n%s  |  %s\n\nmic: %s   camera: %s\n\n[::d]m:mute  v:camera  h:hang up[-:-:-]",
			snap.Call.Type, remote, dur, link, mic, cam)
	default:
		body = "\n\nNo active call"
	}

	_, _ = fmt.Fprint(cv, body)
}
