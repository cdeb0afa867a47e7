// Package loopdetect classifies a stream of tool calls into severity
// levels so a runaway agent loop can be halted before it burns its
// entire budget on repeated, unproductive calls.
package loopdetect

import (
	"crypto/sha256"
)

// Severity ranks how badly a tool-call stream is looping. Values
// compare in ascending order of concern.
type Severity int

const (
	None Severity = iota
	Warning
	Critical
	CircuitBreaker
)

const windowSize = 30

const (
	repeatWarnAt     = 10
	repeatCriticalAt = 20
	pingPongWarnAt   = 10
	pingPongCritAt   = 20
	circuitBreakerAt = 30
)

// record is one observed tool call, reduced to the hashes the
// detector's checks compare.
type record struct {
	name       string
	paramsHash [32]byte
	outHash    [32]byte
}

// Detector holds a fixed-size sliding window of the most recent calls
// and reports the worst severity found across its checks on each push.
// Not safe for concurrent use by multiple goroutines without external
// locking — callers typically own one Detector per agent loop.
type Detector struct {
	window []record
}

// New returns an empty Detector.
func New() *Detector {
	return &Detector{window: make([]record, 0, windowSize)}
}

// Record pushes a new call (name, raw params bytes, raw outcome bytes)
// into the window, evicting the oldest entry once full, and returns
// the maximum severity across all checks run against the updated
// window.
func (d *Detector) Record(name string, params, outcome []byte) Severity {
	rec := record{
		name:       name,
		paramsHash: sha256.Sum256(params),
		outHash:    sha256.Sum256(outcome),
	}

	if len(d.window) >= windowSize {
		d.window = append(d.window[1:], rec)
	} else {
		d.window = append(d.window, rec)
	}

	sev := checkGenericRepeat(d.window)
	if s := checkNoProgress(d.window); s > sev {
		sev = s
	}
	if s := checkPingPong(d.window); s > sev {
		sev = s
	}
	if s := checkCircuitBreaker(d.window); s > sev {
		sev = s
	}
	return sev
}

type repeatKey struct {
	name   string
	params [32]byte
}

func checkGenericRepeat(window []record) Severity {
	counts := make(map[repeatKey]int, len(window))
	best := 0
	for _, r := range window {
		k := repeatKey{r.name, r.paramsHash}
		counts[k]++
		if counts[k] > best {
			best = counts[k]
		}
	}
	return thresholded(best, repeatWarnAt, repeatCriticalAt)
}

type noProgressKey struct {
	name   string
	params [32]byte
	out    [32]byte
}

func checkNoProgress(window []record) Severity {
	counts := make(map[noProgressKey]int, len(window))
	best := 0
	for _, r := range window {
		k := noProgressKey{r.name, r.paramsHash, r.outHash}
		counts[k]++
		if counts[k] > best {
			best = counts[k]
		}
	}
	return thresholded(best, repeatWarnAt, repeatCriticalAt)
}

func checkCircuitBreaker(window []record) Severity {
	counts := make(map[repeatKey]int, len(window))
	for _, r := range window {
		k := repeatKey{r.name, r.paramsHash}
		counts[k]++
		if counts[k] >= circuitBreakerAt {
			return CircuitBreaker
		}
	}
	return None
}

// checkPingPong finds the longest alternating A,B,A,B,... run at the
// tail of the window where each repeated position matches both name
// and outcome hash (a "stable" pair) and A != B, then scores it by
// pair count.
func checkPingPong(window []record) Severity {
	n := len(window)
	if n < 4 {
		return None
	}

	a := window[n-1]
	b := window[n-2]
	if sameCall(a, b) {
		return None
	}

	run := 2
	for i := n - 3; i >= 0; i-- {
		expected := a
		if (n-1-i)%2 == 1 {
			expected = b
		}
		if !sameCall(window[i], expected) {
			break
		}
		run++
	}

	pairs := run / 2
	return thresholded(pairs, pingPongWarnAt, pingPongCritAt)
}

func sameCall(x, y record) bool {
	return x.name == y.name && x.paramsHash == y.paramsHash && x.outHash == y.outHash
}

func thresholded(count, warnAt, criticalAt int) Severity {
	switch {
	case count >= criticalAt:
		return Critical
	case count >= warnAt:
		return Warning
	default:
		return None
	}
}
