package transform

// Undistort inverts Transform: given a distorted normalized point it finds the undistorted
// point that maps onto it, using Newton-Raphson iterations with a finite difference Jacobian.
//
// The forward model is not invertible in closed form once the rational and thin prism terms
// are in play, so the iterations start from the distorted point itself and stop when the
// forward image is within tolerance or the Jacobian becomes singular.
func (d *Distortion) Undistort(xd, yd float64) (float64, float64) {
	if d.IsZero() {
		return xd, yd
	}

	const (
		maxIterations = 20
		tolerance     = 1e-12
		h             = 1e-7
	)

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		xEst, yEst := d.Transform(xu, yu)
		errX := xEst - xd
		errY := yEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		xPlus, yPlus := d.Transform(xu+h, yu)
		xMinus, yMinus := d.Transform(xu-h, yu)
		dxdDxu := (xPlus - xMinus) / (2 * h)
		dydDxu := (yPlus - yMinus) / (2 * h)
		xPlus, yPlus = d.Transform(xu, yu+h)
		xMinus, yMinus = d.Transform(xu, yu-h)
		dxdDyu := (xPlus - xMinus) / (2 * h)
		dydDyu := (yPlus - yMinus) / (2 * h)

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}
		// [xu, yu] -= J^-1 * [errX, errY]
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}
	return xu, yu
}
