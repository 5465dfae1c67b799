// Package scpd parses Service Control Protocol Descriptions and builds
// per-device action inventories.
package scpd

import "strings"

// Complexity grades how much a caller must supply to invoke an action.
type Complexity string

const (
	ComplexityEasy    Complexity = "easy"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Category groups actions by what they do to the device.
type Category string

const (
	CategoryMediaControl  Category = "media_control"
	CategoryVolumeControl Category = "volume_control"
	CategoryInformation   Category = "information"
	CategoryConfiguration Category = "configuration"
	CategorySecurity      Category = "security"
	CategoryOther         Category = "other"
)

// Range carries an allowedValueRange. Values stay as declared; devices
// ship both integers and decimals here.
type Range struct {
	Min  string `json:"min,omitempty"`
	Max  string `json:"max,omitempty"`
	Step string `json:"step,omitempty"`
}

// StateVariable is one serviceStateTable entry.
type StateVariable struct {
	Name          string   `json:"name"`
	DataType      string   `json:"data_type"`
	SendEvents    bool     `json:"send_events"`
	DefaultValue  string   `json:"default_value,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Range         *Range   `json:"range,omitempty"`
}

// Argument is one action argument with its type resolved through the
// related state variable.
type Argument struct {
	Name                 string   `json:"name"`
	Direction            string   `json:"direction"`
	DataType             string   `json:"data_type"`
	RelatedStateVariable string   `json:"related_state_variable,omitempty"`
	AllowedValues        []string `json:"allowed_values,omitempty"`
	Range                *Range   `json:"range,omitempty"`
}

// Action is one invokable SOAP action.
type Action struct {
	Name         string     `json:"name"`
	ArgumentsIn  []Argument `json:"arguments_in"`
	ArgumentsOut []Argument `json:"arguments_out"`
	Complexity   Complexity `json:"complexity"`
	Category     Category   `json:"category"`
}

// Document is a parsed SCPD. ActionOrder preserves the declaration
// order of the action list; Actions is the lookup map over it.
type Document struct {
	Actions        map[string]*Action        `json:"actions"`
	ActionOrder    []string                  `json:"action_order"`
	StateVariables map[string]*StateVariable `json:"state_variables"`
	ParseErrors    []string                  `json:"parse_errors,omitempty"`
}

// ClassifyComplexity applies the inventory grading rule.
func ClassifyComplexity(in, out int) Complexity {
	switch {
	case in >= 3 || out >= 4:
		return ComplexityComplex
	case in <= 1 && out <= 1:
		return ComplexityEasy
	default:
		return ComplexityMedium
	}
}

var (
	securityKeywords = []string{"password", "account", "security", "protect"}
	volumeKeywords   = []string{"volume", "mute", "bass", "treble", "loudness"}
	mediaKeywords    = []string{"play", "pause", "stop", "seek", "next", "previous", "uri", "transport", "queue"}
	configKeywords   = []string{"set", "configure", "edit", "update", "write"}
	infoKeywords     = []string{"get", "query", "list", "browse", "read"}
)

// Categorize buckets an action by its name. Security and volume terms
// dominate; a getter prefix marks information retrieval even when the
// name also mentions transport state (GetTransportInfo reads, it does
// not control playback).
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	if containsAny(lower, securityKeywords) {
		return CategorySecurity
	}
	if containsAny(lower, volumeKeywords) {
		return CategoryVolumeControl
	}
	for _, kw := range infoKeywords {
		if strings.HasPrefix(lower, kw) {
			return CategoryInformation
		}
	}
	if containsAny(lower, mediaKeywords) {
		return CategoryMediaControl
	}
	if containsAny(lower, configKeywords) {
		return CategoryConfiguration
	}
	if containsAny(lower, infoKeywords) {
		return CategoryInformation
	}
	return CategoryOther
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
