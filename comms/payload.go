package comms

import (
	"github.com/CodedInternet/gopneumatic/rig"
	"github.com/go-gl/mathgl/mgl64"
)

// Tip is the pose summary sent alongside the raw vector.
type Tip struct {
	Displacement mgl64.Vec3 `json:"displacement"`
	Bend         float64    `json:"bend"`
}

type StatePayload struct {
	Type string `json:"type"`
	rig.Status
	Tip *Tip `json:"tip,omitempty"`
}

type ErrorPayload struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewStatePayload(st rig.Status) (p StatePayload) {
	p.Type = "status"
	p.Status = st
	if st.Pose != nil {
		p.Tip = &Tip{
			Displacement: st.Pose.Displacement(),
			Bend:         st.Pose.BendAngle(),
		}
	}
	return
}

func NewErrorPayload(err error) ErrorPayload {
	return ErrorPayload{Type: "error", Error: err.Error()}
}
