package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SpectrumAnalyzer converts PCM windows into power spectra for
// fallback-mode classification. One analyzer serves one session; it
// reuses scratch buffers and is not safe for concurrent use.
type SpectrumAnalyzer struct {
	fft        *fourier.FFT
	window     []float64
	sampleRate int
	size       int

	scratch []float64
	coeffs  []complex128
	power   []float64
}

// NewSpectrumAnalyzer creates an analyzer for windows of the given
// sample count. Shorter inputs are zero-padded, longer ones truncated.
func NewSpectrumAnalyzer(size, sampleRate int) *SpectrumAnalyzer {
	window := make([]float64, size)
	for i := range window {
		// Hann window
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	fft := fourier.NewFFT(size)
	return &SpectrumAnalyzer{
		fft:        fft,
		window:     window,
		sampleRate: sampleRate,
		size:       size,
		scratch:    make([]float64, size),
		coeffs:     make([]complex128, size/2+1),
		power:      make([]float64, size/2+1),
	}
}

// PowerSpectrum returns magnitude per frequency bin for one PCM
// window. The returned slice is reused across calls.
func (a *SpectrumAnalyzer) PowerSpectrum(samples []int16) []float64 {
	for i := range a.scratch {
		if i < len(samples) {
			a.scratch[i] = float64(samples[i]) / 32768.0 * a.window[i]
		} else {
			a.scratch[i] = 0
		}
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	for i, c := range a.coeffs {
		a.power[i] = cmplx.Abs(c) / float64(a.size)
	}
	return a.power
}

// BinFrequency returns the center frequency in Hz of spectrum bin i.
func (a *SpectrumAnalyzer) BinFrequency(i int) float64 {
	return a.fft.Freq(i) * float64(a.sampleRate)
}

// BinWidth returns the frequency resolution in Hz.
func (a *SpectrumAnalyzer) BinWidth() float64 {
	return float64(a.sampleRate) / float64(a.size)
}
