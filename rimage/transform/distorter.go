package transform

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// DistortionType is the name of the distortion model.
type DistortionType string

// RationalDistortionType is the 14 coefficient model of OpenCV: radial rational, tangential,
// thin prism and tilt terms.
const RationalDistortionType = DistortionType("rational_thin_prism")

// NumDistortionCoefficients is the number of coefficients of the rational model, in the order
// k1, k2, p1, p2, k3, k4, k5, k6, s1, s2, s3, s4, tauX, tauY.
const NumDistortionCoefficients = 14

// Distorter defines a Transform that takes an undistorted point and distorts it according to the model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// Distortion holds the coefficients of the rational distortion model. The tilt coefficients
// are carried along but not applied, only sensors with tilted optics use them.
type Distortion struct {
	K1, K2, P1, P2, K3, K4, K5, K6 float64
	S1, S2, S3, S4                 float64
	TauX, TauY                     float64
}

// NewDistortion takes up to 14 coefficients in OpenCV order. Missing trailing values are zero.
func NewDistortion(coeffs []float64) (*Distortion, error) {
	if len(coeffs) > NumDistortionCoefficients {
		return nil, errors.Errorf("list of parameters too long, expected max %d, got %d", NumDistortionCoefficients, len(coeffs))
	}
	var c [NumDistortionCoefficients]float64
	copy(c[:], coeffs)
	d := &Distortion{
		c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7],
		c[8], c[9], c[10], c[11],
		c[12], c[13],
	}
	return d, d.CheckValid()
}

// ModelType returns the type of distortion model.
func (d *Distortion) ModelType() DistortionType {
	return RationalDistortionType
}

// CheckValid checks that every coefficient is a finite number.
func (d *Distortion) CheckValid() error {
	if d == nil {
		return InvalidDistortionError("rational distortion_parameters not provided")
	}
	for i, p := range d.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return InvalidDistortionError(fmt.Sprintf("coefficient %d is %v", i, p))
		}
	}
	return nil
}

// Parameters returns the 14 coefficients in OpenCV order.
func (d *Distortion) Parameters() []float64 {
	if d == nil {
		return make([]float64, NumDistortionCoefficients)
	}
	return []float64{
		d.K1, d.K2, d.P1, d.P2, d.K3, d.K4, d.K5, d.K6,
		d.S1, d.S2, d.S3, d.S4,
		d.TauX, d.TauY,
	}
}

// IsZero is true when the model leaves every point unchanged.
func (d *Distortion) IsZero() bool {
	if d == nil {
		return true
	}
	for _, p := range d.Parameters()[:12] {
		if p != 0 {
			return false
		}
	}
	return true
}

// Transform distorts a normalized image point.
func (d *Distortion) Transform(x, y float64) (float64, float64) {
	if d == nil {
		return x, y
	}
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := (1 + d.K1*r2 + d.K2*r4 + d.K3*r6) / (1 + d.K4*r2 + d.K5*r4 + d.K6*r6)
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x) + d.S1*r2 + d.S2*r4
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y + d.S3*r2 + d.S4*r4
	return xd, yd
}
