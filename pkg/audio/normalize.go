package audio

// Normalizer defaults.
const (
	DefaultTargetPeak = 0.95
	DefaultMaxGain    = 4.0
)

// NormalizerConfig tunes a [Normalizer].
type NormalizerConfig struct {
	// TargetPeak is the output peak, as a fraction of full scale, that the
	// loudest material seen so far is scaled to. Default: 0.95.
	TargetPeak float64

	// MaxGain caps amplification so near-silent openings are not blown up.
	// Default: 4.0.
	MaxGain float64
}

func (c NormalizerConfig) withDefaults() NormalizerConfig {
	if c.TargetPeak <= 0 || c.TargetPeak > 1 {
		c.TargetPeak = DefaultTargetPeak
	}
	if c.MaxGain <= 0 {
		c.MaxGain = DefaultMaxGain
	}
	return c
}

// Normalizer keeps the perceived level of a stream consistent from chunk to
// chunk. It tracks the running peak across every chunk applied so far and
// scales the current chunk by TargetPeak / runningPeak, so a quiet chunk that
// follows a loud one is not boosted past the level of its neighbours and no
// chunk ever clips.
//
// Create one Normalizer per stream and call [Normalizer.Apply] in chunk
// order. It is not safe for concurrent use.
type Normalizer struct {
	cfg         NormalizerConfig
	runningPeak float64
	chunks      int
}

// NewNormalizer returns a Normalizer with zero-value fields of cfg replaced by
// the package defaults.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	return &Normalizer{cfg: cfg.withDefaults()}
}

// Apply updates the running peak with samples and returns them scaled and
// quantised to 16-bit PCM. The result depends only on the ordered sequence of
// chunks applied so far.
func (n *Normalizer) Apply(samples []float32) []int16 {
	if p := Peak(samples); p > n.runningPeak {
		n.runningPeak = p
	}
	n.chunks++
	return FloatToPCM16(samples, n.Gain())
}

// Gain returns the scale factor that the next call to Apply would use if the
// chunk does not raise the running peak.
func (n *Normalizer) Gain() float64 {
	if n.runningPeak == 0 {
		return 1
	}
	return min(n.cfg.TargetPeak/n.runningPeak, n.cfg.MaxGain)
}

// RunningPeak returns the largest absolute sample seen so far.
func (n *Normalizer) RunningPeak() float64 { return n.runningPeak }

// Chunks returns how many chunks have been applied.
func (n *Normalizer) Chunks() int { return n.chunks }
