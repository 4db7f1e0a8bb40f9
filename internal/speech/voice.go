package speech

import (
	"strconv"
	"strings"
)

// Synthesis voices exposed by the control plane.
const (
	VoiceAlice = "alice"
	VoiceWoman = "woman"
	VoiceMan   = "man"

	DefaultVoice = VoiceAlice
	DefaultRate  = "1.0"

	minRate = 0.5
	maxRate = 2.0
)

// NormalizeVoice maps a free-form hint onto a synthesis voice by
// case-insensitive token containment. "female" is checked before "male".
func NormalizeVoice(hint string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	switch {
	case h == "":
		return DefaultVoice
	case strings.Contains(h, "alice"):
		return VoiceAlice
	case strings.Contains(h, "female"), strings.Contains(h, "woman"):
		return VoiceWoman
	case strings.Contains(h, "male"), h == "man":
		return VoiceMan
	default:
		return DefaultVoice
	}
}

// NormalizeRate accepts a decimal speaking rate in [0.5, 2.0] and renders it
// with one decimal; anything else falls back to DefaultRate.
func NormalizeRate(rate string) string {
	r := strings.TrimSpace(rate)
	if r == "" {
		return DefaultRate
	}
	f, err := strconv.ParseFloat(r, 64)
	if err != nil || f < minRate || f > maxRate {
		return DefaultRate
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
