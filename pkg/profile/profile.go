// Package profile defines the processing profile: the contract between
// cloakd and the external anonymizer command.
//
// A profile is a YAML or JSON file naming the command to run inside each job
// workspace, the allowlisted output extensions used to count and select
// result files, and the expected output count. The anonymizer itself stays a
// black box: cloakd never interprets its textual output for correctness.
//
// Example profile (YAML):
//
//	version: "1.0"
//	command:
//	  argv: ["python3", "/opt/adkanon/adkanon.py"]
//	  env:
//	    ADKANON_MODE: low
//	  progress_marker: "Generated cloaked image:"
//	output:
//	  extensions: [".png", ".jpg", ".jpeg"]
//	  expected_count: 4
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Defaults applied to optional profile fields.
var (
	DefaultExtensions = []string{".png", ".jpg", ".jpeg"}
)

const (
	DefaultExpectedCount  = 4
	DefaultProgressMarker = "Generated cloaked image:"
	supportedVersion      = "1.0"
)

// Profile is a validated processing profile.
type Profile struct {
	// Version is the profile schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Command configures the anonymizer invocation.
	Command CommandConfig `json:"command" yaml:"command"`

	// Output configures the output contract (optional, defaulted).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// CommandConfig configures how the anonymizer is spawned.
type CommandConfig struct {
	// Argv is the command and its arguments. Required, at least one element.
	Argv []string `json:"argv" yaml:"argv"`

	// Env is extra environment for the command, merged over the inherited
	// environment. Optional.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// ProgressMarker is a substring scanned for on stdout lines to bump the
	// advisory progress counter. Purely cosmetic; it never gates a status
	// transition. Optional.
	ProgressMarker string `json:"progress_marker,omitempty" yaml:"progress_marker,omitempty"`
}

// OutputConfig configures the output contract.
type OutputConfig struct {
	// Extensions is the allowlist of output file extensions. Optional;
	// defaults to DefaultExtensions.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	// ExpectedCount is the default number of output files a job must
	// produce. Optional; defaults to DefaultExpectedCount.
	ExpectedCount int `json:"expected_count,omitempty" yaml:"expected_count,omitempty"`
}

// ApplyDefaults fills in optional fields.
func (p *Profile) ApplyDefaults() {
	if len(p.Output.Extensions) == 0 {
		p.Output.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if p.Output.ExpectedCount == 0 {
		p.Output.ExpectedCount = DefaultExpectedCount
	}
}

// Validate checks the profile for structural errors. Call after
// ApplyDefaults.
func (p *Profile) Validate() error {
	if p.Version != supportedVersion {
		return fmt.Errorf("unsupported profile version %q (expected %q)", p.Version, supportedVersion)
	}
	if len(p.Command.Argv) == 0 {
		return errors.New("command.argv is required")
	}
	for _, arg := range p.Command.Argv {
		if strings.TrimSpace(arg) == "" {
			return errors.New("command.argv must not contain empty elements")
		}
	}
	if p.Output.ExpectedCount < 1 {
		return fmt.Errorf("output.expected_count must be >= 1, got %d", p.Output.ExpectedCount)
	}
	for _, ext := range p.Output.Extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" || ext == "." {
			return errors.New("output.extensions must not contain empty entries")
		}
	}
	return nil
}

// EnvSlice renders the env map as KEY=value pairs in sorted-stable order
// suitable for exec.Cmd.
func (p *Profile) EnvSlice() []string {
	if len(p.Command.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p.Command.Env))
	for k := range p.Command.Env {
		keys = append(keys, k)
	}
	// Deterministic ordering keeps spawned environments reproducible.
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+p.Command.Env[k])
	}
	return out
}
