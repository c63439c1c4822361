package audio

import "math"

// Resample converts mono samples captured at sourceRate to TargetRate using
// linear interpolation. Positions past the last input sample are clamped to
// it rather than extrapolated. Input already at TargetRate is returned as is.
func Resample(input []float32, sourceRate int) []float32 {
	if sourceRate == TargetRate || sourceRate <= 0 || len(input) == 0 {
		return input
	}

	factor := float64(TargetRate) / float64(sourceRate)
	outputLen := int(math.Round(float64(len(input)) * factor))
	output := make([]float32, outputLen)

	last := len(input) - 1
	for i := range output {
		t := float64(i) / factor
		j := int(math.Floor(t))
		if j > last {
			j = last
		}
		k := j + 1
		if k > last {
			k = last
		}
		frac := float32(t - float64(j))
		output[i] = input[j] + (input[k]-input[j])*frac
	}

	return output
}
