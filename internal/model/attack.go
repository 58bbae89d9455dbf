package model

import "strings"

// AttackSpec describes an adversarial process to run against the vehicle
// while a mission executes. Immutable, supplied by scenario configuration.
type AttackSpec struct {
	// Script is the path of the attack executable.
	Script string
	// Flags is an opaque comma-separated token list forwarded verbatim to
	// the attack process.
	Flags     string
	Longitude float64
	Latitude  float64
	Radius    float64
}

func (a AttackSpec) Enabled() bool {
	return a.Script != ""
}

// FlagTokens splits Flags on commas. An empty Flags yields no tokens.
func (a AttackSpec) FlagTokens() []string {
	if a.Flags == "" {
		return nil
	}
	return strings.Split(a.Flags, ",")
}
