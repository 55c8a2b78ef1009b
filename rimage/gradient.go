package rimage

// CentralDifference writes (I(x+1,y)-I(x-1,y))/2 into dx and (I(x,y+1)-I(x,y-1))/2 into
// dy. Both are zero on the one pixel border of the image.
func CentralDifference(src, dx, dy *FloatImage) {
	dx.Fill(0)
	dy.Fill(0)
	for y := 1; y < src.height-1; y++ {
		for x := 1; x < src.width-1; x++ {
			dx.Set(x, y, 0.5*(src.At(x+1, y)-src.At(x-1, y)))
			dy.Set(x, y, 0.5*(src.At(x, y+1)-src.At(x, y-1)))
		}
	}
}

// DepthGradient is CentralDifference for depth images: a derivative is zero when either
// of the two neighbours it uses is not a valid depth.
func DepthGradient(src, dx, dy *FloatImage) {
	dx.Fill(0)
	dy.Fill(0)
	for y := 1; y < src.height-1; y++ {
		for x := 1; x < src.width-1; x++ {
			if l, r := src.At(x-1, y), src.At(x+1, y); IsValidDepth(l) && IsValidDepth(r) {
				dx.Set(x, y, 0.5*(r-l))
			}
			if u, d := src.At(x, y-1), src.At(x, y+1); IsValidDepth(u) && IsValidDepth(d) {
				dy.Set(x, y, 0.5*(d-u))
			}
		}
	}
}
