package main

import (
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"

	"go.viam.com/densevo/spatialmath"
)

// writeTrajectory writes one "index tx ty tz qx qy qz qw" line per camera pose.
func writeTrajectory(w io.Writer, poses []mgl64.Mat4) error {
	for i, pose := range poses {
		t := spatialmath.Translation(pose)
		q := spatialmath.RotationToQuat(spatialmath.Rotation(pose))
		if _, err := fmt.Fprintf(w, "%d %.6f %.6f %.6f %.6f %.6f %.6f %.6f\n",
			i, t[0], t[1], t[2], q.Imag, q.Jmag, q.Kmag, q.Real); err != nil {
			return err
		}
	}
	return nil
}
