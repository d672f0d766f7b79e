package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestRotate(t *testing.T) {
	tests := []struct {
		name string
		q    Quat
		in   Vec3
		want Vec3
	}{
		{"identity", Identity(), V(1, 2, 3), V(1, 2, 3)},
		{"yaw 90 turns forward to +X", Euler(90, 0, 0), V(0, 0, 1), V(1, 0, 0)},
		{"pitch 90 turns forward to -Y", Euler(0, 90, 0), V(0, 0, 1), V(0, -1, 0)},
		{"roll 180 flips X", Euler(0, 0, 180), V(1, 0, 0), V(-1, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.q.Rotate(tt.in)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tt.want.Z, got.Z, 1e-9)
		})
	}
}

func TestPoseAnchor(t *testing.T) {
	pose := Pose{Position: V(1, 1.6, 0), Rotation: Euler(90, 0, 0)}

	got := pose.Anchor(V(0, 0, 2))
	assert.InDelta(t, 3.0, got.X, 1e-9)
	assert.InDelta(t, 1.6, got.Y, 1e-9)
	assert.InDelta(t, 0.0, got.Z, 1e-9)

	back := pose.Local(got)
	assert.InDelta(t, 0.0, back.X, 1e-9)
	assert.InDelta(t, 0.0, back.Y, 1e-9)
	assert.InDelta(t, 2.0, back.Z, 1e-9)
}

func TestSlerpHalfway(t *testing.T) {
	q := Identity().Slerp(Euler(90, 0, 0), 0.5)
	got := q.Rotate(V(0, 0, 1))
	assert.InDelta(t, 0.7071, got.X, 1e-3)
	assert.InDelta(t, 0.7071, got.Z, 1e-3)
}

func TestVec3YAML(t *testing.T) {
	var locs []Vec3
	err := yaml.Unmarshal([]byte("- [0, 0, 2]\n- [-200, 0]\n- {x: 1, y: 2, z: 3}\n"), &locs)
	assert.NoError(t, err)
	assert.Equal(t, []Vec3{V(0, 0, 2), V(-200, 0, 0), V(1, 2, 3)}, locs)

	err = yaml.Unmarshal([]byte("- [1]\n"), &locs)
	assert.Error(t, err)
}
