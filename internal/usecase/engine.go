package usecase

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

// Engine defaults
const (
	DefaultModes      = 32
	DefaultPMW        = 0.5
	DefaultPulseAmp   = 0.5
	DefaultPulseDecay = 0.95

	// MaxPMW and MaxPulseAmp bound control inputs by absolute value
	MaxPMW      = 1e3
	MaxPulseAmp = 1e3
	// MaxPulses is the number of live pulses kept; the oldest is dropped beyond it
	MaxPulses = 256

	pulseFloor = 1e-3
	pmwGain    = 0.3
	baseFreqHz = 0.2
)

var (
	ErrInvalidPMW   = errors.New("pmw must be a finite number within [-1000, 1000]")
	ErrInvalidPulse = errors.New("pulse amp must be finite within [-1000, 1000] and decay within (0, 1)")
)

var activeModes = []int{0, 1, 2, 5, 8, 13}

type pulse struct {
	k     int
	amp   float64
	decay float64
	ttl   float64
}

// Engine produces the synthetic modal telemetry streamed to every
// connection. Each Step advances the shared clock by one frame.
type Engine struct {
	mu     sync.Mutex
	k      int
	dt     float64
	omega  float64
	amps   []float64
	phi    float64
	t      float64
	pmw    float64
	pulses []*pulse
}

// NewEngine creates an engine ticking at fps frames per second
func NewEngine(fps float64) *Engine {
	if fps <= 0 {
		fps = domain.FeedFPS
	}
	return &Engine{
		k:     DefaultModes,
		dt:    1 / fps,
		omega: 2 * math.Pi * baseFreqHz,
		amps:  linspace(1.0, 0.2, len(activeModes)),
		pmw:   DefaultPMW,
	}
}

// ValidatePMW reports whether v is an acceptable pulse-modulation weight
func ValidatePMW(v float64) error {
	if math.IsNaN(v) || math.Abs(v) > MaxPMW {
		return ErrInvalidPMW
	}
	return nil
}

// ValidatePulse reports whether amp and decay describe a pulse that dies out
func ValidatePulse(amp, decay float64) error {
	if math.IsNaN(amp) || math.Abs(amp) > MaxPulseAmp {
		return ErrInvalidPulse
	}
	if !(decay > 0 && decay < 1) {
		return ErrInvalidPulse
	}
	return nil
}

// SetPMW sets the pulse-modulation weight added to mode 0
func (e *Engine) SetPMW(v float64) error {
	if err := ValidatePMW(v); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pmw = v
	return nil
}

// PMW returns the current pulse-modulation weight
func (e *Engine) PMW() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pmw
}

// AddPulse injects a decaying excitation on mode k (clamped into range)
func (e *Engine) AddPulse(k int, amp, decay float64) error {
	if err := ValidatePulse(amp, decay); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	k = max(0, min(k, e.k-1))
	if len(e.pulses) >= MaxPulses {
		copy(e.pulses, e.pulses[1:])
		e.pulses = e.pulses[:len(e.pulses)-1]
	}
	e.pulses = append(e.pulses, &pulse{k: k, amp: amp, decay: decay, ttl: 1})
	return nil
}

// PulseCount returns the number of pulses still alive
func (e *Engine) PulseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pulses)
}

// Step advances one frame and returns its snapshot
func (e *Engine) Step() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := make([]complex128, e.k)
	e.phi += e.omega * e.dt
	for i, k := range activeModes {
		mag := e.amps[i] * (0.75 + 0.25*math.Sin(e.phi+float64(i)))
		phase := e.phi * (1 + float64(i)*0.1)
		c[k] = cmplx.Rect(mag, phase)
	}

	alive := e.pulses[:0]
	for _, p := range e.pulses {
		c[p.k] += complex(p.amp*p.ttl, 0)
		p.ttl *= p.decay
		if p.ttl >= pulseFloor {
			alive = append(alive, p)
		}
	}
	for i := len(alive); i < len(e.pulses); i++ {
		e.pulses[i] = nil
	}
	e.pulses = alive

	c[0] += complex(pmwGain*e.pmw, 0)

	modes := make([]float64, e.k)
	for i, v := range c {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			c[i] = 0
		}
		modes[i] = finite(cmplx.Abs(c[i]))
	}

	bands := blend(modes)
	for key, v := range bands {
		bands[key] = finite(v)
	}
	snap := map[string]any{
		"modes":   modes,
		"entropy": finite(spectralEntropy(modes)),
		"R":       finite(coherence(c)),
		"S":       bands,
		"stokes":  stokes(c[1], c[2]),
		"pmw":     finite(e.pmw),
		"time":    e.t,
	}
	e.t += e.dt
	return snap
}

// spectralEntropy is the Shannon entropy of the power spectrum, scaled to [0, 1]
func spectralEntropy(modes []float64) float64 {
	var total float64
	for _, m := range modes {
		total += m * m
	}
	if total == 0 || len(modes) < 2 {
		return 0
	}
	var h float64
	for _, m := range modes {
		p := m * m / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h / math.Log(float64(len(modes)))
}

// coherence is the Kuramoto order parameter over the non-zero modes
func coherence(c []complex128) float64 {
	var sum complex128
	n := 0
	for _, v := range c {
		if v == 0 {
			continue
		}
		sum += cmplx.Rect(1, cmplx.Phase(v))
		n++
	}
	if n == 0 {
		return 0
	}
	return cmplx.Abs(sum) / float64(n)
}

// blend splits the energy into a low (U) and high (F) band
func blend(modes []float64) map[string]float64 {
	half := len(modes) / 2
	var lo, hi float64
	for i, m := range modes {
		if i < half {
			lo += m * m
		} else {
			hi += m * m
		}
	}
	total := lo + hi
	if total == 0 {
		return map[string]float64{"U": 0.5, "F": 0.5, "blend": 0.5}
	}
	return map[string]float64{"U": lo / total, "F": hi / total, "blend": hi / total}
}

// stokes describes the polarisation of the mode pair (a, b)
func stokes(a, b complex128) map[string]any {
	ab := a * cmplx.Conj(b)
	aa := real(a * cmplx.Conj(a))
	bb := real(b * cmplx.Conj(b))
	return map[string]any{
		"S0":   finite(aa + bb),
		"S1":   finite(aa - bb),
		"S2":   finite(2 * real(ab)),
		"S3":   finite(2 * imag(ab)),
		"pair": []int{1, 2},
	}
}

// finite maps NaN and ±Inf to 0 so a snapshot always encodes as JSON
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func linspace(from, to float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = from
		return out
	}
	step := (to - from) / float64(n-1)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}
