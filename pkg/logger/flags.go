package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel       string
	LogFormat      string
	LogFile        string
	DebugSignaling bool
	DebugSDP       bool
	DebugICE       bool
	DebugWebRTC    bool
	DebugStats     bool
	DebugAll       bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugSignaling, "debug-signaling", false,
		"Enable signaling channel debugging (hello, offer, answer messages)")
	fs.BoolVar(&f.DebugSDP, "debug-sdp", false,
		"Enable session description debugging (full local and remote SDP)")
	fs.BoolVar(&f.DebugICE, "debug-ice", false,
		"Enable ICE debugging (gathered and filtered candidates)")
	fs.BoolVar(&f.DebugWebRTC, "debug-webrtc", false,
		"Enable WebRTC engine debugging (state changes, internal engine logs)")
	fs.BoolVar(&f.DebugStats, "debug-stats", false,
		"Enable statistics debugging (collected reports, telemetry)")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

func (f *Flags) enabled() []DebugCategory {
	if f.DebugAll {
		return []DebugCategory{DebugAll}
	}

	var out []DebugCategory
	if f.DebugSignaling {
		out = append(out, DebugSignaling)
	}
	if f.DebugSDP {
		out = append(out, DebugSDP)
	}
	if f.DebugICE {
		out = append(out, DebugICE)
	}
	if f.DebugWebRTC {
		out = append(out, DebugWebRTC)
	}
	if f.DebugStats {
		out = append(out, DebugStats)
	}
	return out
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	// Force debug level when any debug category is enabled
	for _, c := range f.enabled() {
		cfg.EnableCategory(c)
		cfg.Level = LevelDebug
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./sfuclient -config client.yaml

  Enable DEBUG level:
    ./sfuclient -config client.yaml --log-level debug

  Log to file:
    ./sfuclient -config client.yaml -o client.log

  Trace the offer/answer exchange:
    ./sfuclient -config client.yaml --debug-signaling --debug-sdp

  See which candidates are dropped by limit_ip:
    ./sfuclient -config client.yaml --debug-ice

  Debug everything, JSON to file:
    ./sfuclient -config client.yaml --debug-all --log-format json -o debug.json
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	for _, c := range f.enabled() {
		debugCategories = append(debugCategories, string(c))
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
