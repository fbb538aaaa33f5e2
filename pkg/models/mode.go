package models

import (
	"fmt"
	"strings"
)

// ── Mode ─────────────────────────────────────────────────────

// Mode is the closed set of operating modes a query can run in.
// The zero value (ModeUnset) asks the router to classify the query.
type Mode uint8

const (
	ModeUnset Mode = iota
	ModeAsk
	ModePlan
	ModeDebug
	ModeExecute

	modeCount
)

// NumModes is the number of concrete modes (excluding ModeUnset).
const NumModes = int(modeCount) - 1

var modeNames = [...]string{
	ModeUnset:   "",
	ModeAsk:     "ask",
	ModePlan:    "plan",
	ModeDebug:   "debug",
	ModeExecute: "execute",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Valid reports whether m is one of the four concrete modes.
func (m Mode) Valid() bool {
	return m > ModeUnset && m < modeCount
}

// ParseMode converts a mode name to a Mode. An empty string yields ModeUnset.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeUnset, nil
	}
	for i, name := range modeNames {
		if i > 0 && name == s {
			return Mode(i), nil
		}
	}
	return ModeUnset, fmt.Errorf("unknown mode %q", s)
}

// AllModes returns the concrete modes in risk order.
func AllModes() []Mode {
	return []Mode{ModeAsk, ModePlan, ModeDebug, ModeExecute}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ── Risk & Capabilities ──────────────────────────────────────

type RiskTier string

const (
	RiskReadOnly   RiskTier = "read_only"
	RiskSimulation RiskTier = "simulation"
	RiskDiagnostic RiskTier = "diagnostic"
	RiskMutating   RiskTier = "mutating"
)

// Capability is a single thing a mode is allowed to do.
type Capability string

const (
	CapReadInfra      Capability = "read_infra"
	CapReadMetrics    Capability = "read_metrics"
	CapReadLogs       Capability = "read_logs"
	CapReadTraces     Capability = "read_traces"
	CapReadConfig     Capability = "read_config"
	CapReadTopology   Capability = "read_topology"
	CapReadCost       Capability = "read_cost"
	CapReadSecurity   Capability = "read_security"
	CapReadCICD       Capability = "read_cicd"
	CapReadCrossScope Capability = "read_cross_scope"

	CapSimulateChange Capability = "simulate_change"
	CapEstimateCost   Capability = "estimate_cost"
	CapEstimateImpact Capability = "estimate_impact"
	CapValidateChange Capability = "validate_change"

	CapDeepInspect    Capability = "deep_inspect"
	CapTraceExecution Capability = "trace_execution"
	CapAnalyzeFailure Capability = "analyze_failure"
	CapDiagnoseIssue  Capability = "diagnose_issue"

	CapDeploy    Capability = "deploy"
	CapScale     Capability = "scale"
	CapConfigure Capability = "configure"
	CapRollback  Capability = "rollback"
)

// ModeInfo describes a mode for listing and policy decisions.
type ModeInfo struct {
	Mode             Mode         `json:"mode"`
	Description      string       `json:"description"`
	RiskTier         RiskTier     `json:"risk_tier"`
	RequiresApproval bool         `json:"requires_approval"`
	Capabilities     []Capability `json:"capabilities"`
}

var modeInfo = [...]ModeInfo{
	ModeAsk: {
		Mode:        ModeAsk,
		Description: "Read-only questions about infrastructure, services, cost and access",
		RiskTier:    RiskReadOnly,
		Capabilities: []Capability{
			CapReadInfra, CapReadMetrics, CapReadLogs, CapReadTraces, CapReadConfig,
			CapReadTopology, CapReadCost, CapReadSecurity, CapReadCICD, CapReadCrossScope,
		},
	},
	ModePlan: {
		Mode:        ModePlan,
		Description: "Simulate changes and estimate their cost and impact without applying them",
		RiskTier:    RiskSimulation,
		Capabilities: []Capability{
			CapReadInfra, CapReadConfig, CapReadCost,
			CapSimulateChange, CapEstimateCost, CapEstimateImpact, CapValidateChange,
		},
	},
	ModeDebug: {
		Mode:        ModeDebug,
		Description: "Investigate failures using logs, metrics, traces and past incidents",
		RiskTier:    RiskDiagnostic,
		Capabilities: []Capability{
			CapReadInfra, CapReadMetrics, CapReadLogs, CapReadTraces, CapReadTopology,
			CapDeepInspect, CapTraceExecution, CapAnalyzeFailure, CapDiagnoseIssue,
		},
	},
	ModeExecute: {
		Mode:             ModeExecute,
		Description:      "Perform mutating operations, each gated behind an explicit approval",
		RiskTier:         RiskMutating,
		RequiresApproval: true,
		Capabilities: []Capability{
			CapReadInfra, CapReadConfig, CapDeploy, CapScale, CapConfigure, CapRollback,
		},
	},
}

// Info returns the static description of a concrete mode.
func (m Mode) Info() ModeInfo {
	if !m.Valid() {
		return ModeInfo{Mode: m}
	}
	info := modeInfo[m]
	info.Capabilities = append([]Capability(nil), info.Capabilities...)
	return info
}

// Allows reports whether c belongs to the mode's capability set.
func (m Mode) Allows(c Capability) bool {
	if !m.Valid() {
		return false
	}
	for _, have := range modeInfo[m].Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Permission returns the permission string "{mode}:{capability}".
func Permission(m Mode, c Capability) string {
	return m.String() + ":" + string(c)
}
