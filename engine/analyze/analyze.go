// Package analyze measures rendered audio: levels, gain through a plugin
// chain and stereo balance. It works on the [][]float32 buffers the engine
// renders, so it serves both offline checks and tests.
package analyze

import (
	"fmt"
	"math"
)

// Metrics is the level of a stretch of audio.
type Metrics struct {
	RMS        float64 // over every sample of every channel
	Peak       float64
	FrameCount int
}

// DBFS returns the RMS level in dB relative to full scale, -Inf for silence.
func (m Metrics) DBFS() float64 { return toDB(m.RMS) }

// PeakDBFS returns the peak level in dB relative to full scale.
func (m Metrics) PeakDBFS() float64 { return toDB(m.Peak) }

// StereoAnalysis contains results of stereo balance analysis
type StereoAnalysis struct {
	LeftChannelRMS  float64
	RightChannelRMS float64
	PanPosition     float32 // constant power estimate, -1.0 to 1.0
	StereoWidth     float64 // |L-R| in RMS
	TotalRMS        float64
	Balance         float64 // (R-L)/(R+L), -1.0 to 1.0
}

// ChainAnalysis contains results of plugin chain analysis
type ChainAnalysis struct {
	InputRMS     float64
	OutputRMS    float64
	GainChange   float64 // dB change through chain
	IsProcessing bool    // output frames were produced
	FramesIn     int
	FramesOut    int
}

// AnalysisConfig holds the thresholds used by the Validate functions.
type AnalysisConfig struct {
	MinSignalLevel float64 // Minimum RMS to consider as signal
	ToleranceDB    float64 // Tolerance for level comparisons (dB)
	PanTolerance   float32 // Tolerance for pan position
}

// DefaultAnalysisConfig returns sensible defaults for audio analysis
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MinSignalLevel: 0.001, // -60dB
		ToleranceDB:    1.0,
		PanTolerance:   0.1,
	}
}

// Measure computes the metrics of one buffer set.
func Measure(audio [][]float32) Metrics {
	var t Tap
	t.Add(audio)
	return t.Metrics()
}

// Tap accumulates metrics over successive cycles. Add allocates nothing,
// but a Tap is not safe for concurrent use.
type Tap struct {
	sumSq   [2]float64
	samples [2]int
	peak    float64
	frames  int
}

// Add folds one cycle of audio into the tap. Channels beyond the second
// count toward the totals only through the first two.
func (t *Tap) Add(audio [][]float32) {
	if len(audio) == 0 {
		return
	}
	for ch, buf := range audio {
		side := min(ch, 1)
		for _, s := range buf {
			v := float64(s)
			t.sumSq[side] += v * v
			if a := math.Abs(v); a > t.peak {
				t.peak = a
			}
		}
		t.samples[side] += len(buf)
	}
	t.frames += len(audio[0])
}

// Reset clears the tap.
func (t *Tap) Reset() { *t = Tap{} }

// Metrics returns the accumulated level over all channels.
func (t *Tap) Metrics() Metrics {
	n := t.samples[0] + t.samples[1]
	m := Metrics{Peak: t.peak, FrameCount: t.frames}
	if n > 0 {
		m.RMS = math.Sqrt((t.sumSq[0] + t.sumSq[1]) / float64(n))
	}
	return m
}

// ChannelRMS returns the RMS of the left and right channels.
func (t *Tap) ChannelRMS() (left, right float64) {
	rms := func(side int) float64 {
		if t.samples[side] == 0 {
			return 0
		}
		return math.Sqrt(t.sumSq[side] / float64(t.samples[side]))
	}
	left = rms(0)
	right = left
	if t.samples[1] > 0 {
		right = rms(1)
	}
	return left, right
}

// AnalyzeStereo measures the balance of the audio a tap collected.
func AnalyzeStereo(t *Tap) *StereoAnalysis {
	left, right := t.ChannelRMS()
	a := &StereoAnalysis{
		LeftChannelRMS:  left,
		RightChannelRMS: right,
		StereoWidth:     math.Abs(left - right),
		TotalRMS:        t.Metrics().RMS,
	}
	if left > 0 || right > 0 {
		a.Balance = (right - left) / (right + left)
		// Constant power pan law: L = cos(θ), R = sin(θ), θ in [0, π/2].
		theta := math.Atan2(right, left)
		a.PanPosition = float32(theta*4/math.Pi - 1)
	}
	return a
}

// AnalyzePluginChain compares the audio entering and leaving a chain.
func AnalyzePluginChain(in, out Metrics) *ChainAnalysis {
	return &ChainAnalysis{
		InputRMS:     in.RMS,
		OutputRMS:    out.RMS,
		GainChange:   gainChange(in.RMS, out.RMS),
		IsProcessing: out.FrameCount > 0,
		FramesIn:     in.FrameCount,
		FramesOut:    out.FrameCount,
	}
}

func gainChange(in, out float64) float64 {
	if in > 0 && out > 0 {
		return 20 * math.Log10(out/in)
	}
	return 0
}

func toDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// ValidateStereoAnalysis checks a measured pan against the expected one.
func ValidateStereoAnalysis(analysis *StereoAnalysis, expectedPan float32, config AnalysisConfig) error {
	if analysis.TotalRMS <= config.MinSignalLevel {
		return fmt.Errorf("no signal to measure pan (RMS: %.6f)", analysis.TotalRMS)
	}
	panDiff := math.Abs(float64(analysis.PanPosition - expectedPan))
	if panDiff > float64(config.PanTolerance) {
		return fmt.Errorf("pan position mismatch: expected %.2f, got %.2f (diff: %.2f)",
			expectedPan, analysis.PanPosition, panDiff)
	}
	return nil
}

// ValidateChainAnalysis checks the gain through a chain against expectedDB.
func ValidateChainAnalysis(analysis *ChainAnalysis, expectedDB float64, config AnalysisConfig) error {
	if !analysis.IsProcessing || analysis.FramesOut == 0 {
		return fmt.Errorf("expected plugin chain to be processing but it's not")
	}
	if analysis.OutputRMS < config.MinSignalLevel {
		return fmt.Errorf("chain output is silent (RMS: %.6f)", analysis.OutputRMS)
	}
	if diff := math.Abs(analysis.GainChange - expectedDB); diff > config.ToleranceDB {
		return fmt.Errorf("gain change %.2f dB, expected %.2f dB (diff: %.2f)",
			analysis.GainChange, expectedDB, diff)
	}
	return nil
}
