package pose

import (
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	Bodies        = 3
	FieldsPerBody = 7 // x, y, z, qx, qy, qz, qw
	Size          = Bodies * FieldsPerBody
)

// Fields names the per body fields in payload order.
var Fields = [FieldsPerBody]string{"x", "y", "z", "qx", "qy", "qz", "qw"}

var ErrPoseSize = stderrors.New("pose payload too short")

// Vector is one motion capture sample: three rigid bodies, base first and tip last.
type Vector [Size]float64

// Parse reads a comma separated payload. Anything past Size values is ignored.
func Parse(payload []byte) (v Vector, err error) {
	fields := strings.Split(strings.TrimSpace(string(payload)), ",")
	if len(fields) < Size {
		return v, fmt.Errorf("%w: %d of %d values", ErrPoseSize, len(fields), Size)
	}

	for i := 0; i < Size; i++ {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Vector{}, fmt.Errorf("unable to parse pose value %d: %w", i, err)
		}
	}
	return v, nil
}

// Body returns the position and orientation of body i, counting from 0.
func (v Vector) Body(i int) (pos mgl64.Vec3, rot mgl64.Quat) {
	b := v[i*FieldsPerBody : (i+1)*FieldsPerBody]
	pos = mgl64.Vec3{b[0], b[1], b[2]}
	rot = mgl64.Quat{W: b[6], V: mgl64.Vec3{b[3], b[4], b[5]}}
	return
}

// Displacement is the tip position relative to the base.
func (v Vector) Displacement() mgl64.Vec3 {
	base, _ := v.Body(0)
	tip, _ := v.Body(Bodies - 1)
	return tip.Sub(base)
}

// BendAngle is the angle in radians between the base and tip z axes.
func (v Vector) BendAngle() float64 {
	_, base := v.Body(0)
	_, tip := v.Body(Bodies - 1)

	up := mgl64.Vec3{0, 0, 1}
	a := base.Normalize().Rotate(up)
	b := tip.Normalize().Rotate(up)
	return math.Acos(mgl64.Clamp(a.Dot(b), -1, 1))
}

// Euler gives roll, pitch and yaw in radians. Yaw is negated to match the capture volume's
// left handed floor frame.
func Euler(q mgl64.Quat) (roll, pitch, yaw float64) {
	qx, qy, qz, qw := q.V[0], q.V[1], q.V[2], q.W
	roll = math.Atan2(2*(qw*qx+qy*qz), 1-2*(qx*qx+qy*qy))
	pitch = math.Asin(mgl64.Clamp(2*(qw*qy-qz*qx), -1, 1))
	yaw = -math.Atan2(2*(qw*qz+qx*qy), 1-2*(qy*qy+qz*qz))
	return
}
