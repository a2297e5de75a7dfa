package analyzer

import "math"

const (
	nFFT = 512
	nHop = nFFT / 2
)

var hannWindow = func() []float64 {
	w := make([]float64, nFFT)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(nFFT))
	}
	return w
}()

// spectrogram computes magnitude frames of the 512-point half-overlap STFT.
func spectrogram(samples []float64, offset int) [][]float64 {
	if offset >= len(samples) {
		return nil
	}
	samples = samples[offset:]
	if len(samples) < nFFT {
		return nil
	}
	frames := 1 + (len(samples)-nFFT)/nHop
	out := make([][]float64, frames)

	re := make([]float64, nFFT)
	im := make([]float64, nFFT)
	for frame := 0; frame < frames; frame++ {
		base := frame * nHop
		for i := 0; i < nFFT; i++ {
			re[i] = samples[base+i] * hannWindow[i]
			im[i] = 0
		}
		fft(re, im)
		mags := make([]float64, nFFT/2)
		for bin := range mags {
			mags[bin] = math.Hypot(re[bin], im[bin])
		}
		out[frame] = mags
	}
	return out
}

// fft runs an in-place iterative radix-2 transform. len(re) must be a power
// of two.
func fft(re, im []float64) {
	n := len(re)
	// bit reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wRe := math.Cos(angle)
		wIm := math.Sin(angle)
		for start := 0; start < n; start += length {
			cRe, cIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				evenRe, evenIm := re[start+k], im[start+k]
				oddRe := re[start+k+half]*cRe - im[start+k+half]*cIm
				oddIm := re[start+k+half]*cIm + im[start+k+half]*cRe
				re[start+k] = evenRe + oddRe
				im[start+k] = evenIm + oddIm
				re[start+k+half] = evenRe - oddRe
				im[start+k+half] = evenIm - oddIm
				cRe, cIm = cRe*wRe-cIm*wIm, cRe*wIm+cIm*wRe
			}
		}
	}
}
