package vitals

import (
	"fmt"
	"strings"
	"time"
)

// Method identifies an rPPG estimation method supported by the engine.
type Method string

const (
	// MethodVitalLens is the commercial method. It requires an API key and is
	// the only method that measures respiration.
	MethodVitalLens Method = "VITALLENS"
	// MethodPOS, MethodCHROM and MethodG are free methods that estimate heart
	// rate and the PPG waveform only.
	MethodPOS   Method = "POS"
	MethodCHROM Method = "CHROM"
	MethodG     Method = "G"
)

// Methods lists all supported methods in preferred display order.
func Methods() []Method {
	return []Method{MethodVitalLens, MethodPOS, MethodCHROM, MethodG}
}

// RequiresAPIKey reports whether the method needs an API key.
func (m Method) RequiresAPIKey() bool {
	return m == MethodVitalLens
}

// SupportsRespiration reports whether the method measures respiratory rate
// and the respiratory waveform.
func (m Method) SupportsRespiration() bool {
	return m == MethodVitalLens
}

// MinVideoDuration is the shortest video the method can analyze. Heart-rate
// only methods need 5 seconds of signal; respiratory measurement needs 10.
func (m Method) MinVideoDuration() time.Duration {
	if m.SupportsRespiration() {
		return 10 * time.Second
	}
	return 5 * time.Second
}

func (m Method) String() string {
	return string(m)
}

// ParseMethod resolves a method from user input. Input is case-insensitive
// and display labels such as "POS (free)" are accepted by stripping the
// parenthesized suffix.
func ParseMethod(name string) (Method, error) {
	normalized := strings.TrimSpace(name)
	if idx := strings.Index(normalized, "("); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	normalized = strings.ToUpper(normalized)

	for _, m := range Methods() {
		if string(m) == normalized {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown detection method %q", ErrInvalidParameter, name)
}

// DedupeMethods drops duplicates while keeping the original request order.
func DedupeMethods(methods []Method) []Method {
	seen := make(map[Method]struct{}, len(methods))
	out := make([]Method, 0, len(methods))
	for _, m := range methods {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
