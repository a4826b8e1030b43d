package models

// Capability is a named skill an agent declares from a closed vocabulary.
type Capability string

const (
	CapabilitySearch       Capability = "search"
	CapabilityAnalyze      Capability = "analyze"
	CapabilitySummarize    Capability = "summarize"
	CapabilityDesign       Capability = "design"
	CapabilityPlan         Capability = "plan"
	CapabilityCode         Capability = "code"
	CapabilityRefactor     Capability = "refactor"
	CapabilityTest         Capability = "test"
	CapabilityValidate     Capability = "validate"
	CapabilityReviewCode   Capability = "review-code"
	CapabilityWriteDocs    Capability = "write-docs"
	CapabilityDebug        Capability = "debug"
	CapabilityTroubleshoot Capability = "troubleshoot"
)

// Valid returns true if the capability is part of the known vocabulary.
func (c Capability) Valid() bool {
	switch c {
	case CapabilitySearch, CapabilityAnalyze, CapabilitySummarize,
		CapabilityDesign, CapabilityPlan, CapabilityCode, CapabilityRefactor,
		CapabilityTest, CapabilityValidate, CapabilityReviewCode,
		CapabilityWriteDocs, CapabilityDebug, CapabilityTroubleshoot:
		return true
	default:
		return false
	}
}

// AgentType identifies the specialization of an agent. The orchestrator
// never branches on type directly; it only consults the declared
// capability set the type implies.
type AgentType string

const (
	AgentTypeResearch       AgentType = "research"
	AgentTypeArchitect      AgentType = "architect"
	AgentTypeImplementation AgentType = "implementation"
	AgentTypeTesting        AgentType = "testing"
	AgentTypeReview         AgentType = "review"
	AgentTypeDocumentation  AgentType = "documentation"
	AgentTypeDebugger       AgentType = "debugger"
)

// Valid returns true if the agent type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeResearch, AgentTypeArchitect, AgentTypeImplementation,
		AgentTypeTesting, AgentTypeReview, AgentTypeDocumentation, AgentTypeDebugger:
		return true
	default:
		return false
	}
}

// DefaultCapabilities returns the capability set an agent type declares
// when registration does not supply an explicit set.
func DefaultCapabilities(t AgentType) []Capability {
	switch t {
	case AgentTypeResearch:
		return []Capability{CapabilitySearch, CapabilityAnalyze, CapabilitySummarize}
	case AgentTypeArchitect:
		return []Capability{CapabilityDesign, CapabilityPlan}
	case AgentTypeImplementation:
		return []Capability{CapabilityCode, CapabilityRefactor}
	case AgentTypeTesting:
		return []Capability{CapabilityTest, CapabilityValidate}
	case AgentTypeReview:
		return []Capability{CapabilityReviewCode}
	case AgentTypeDocumentation:
		return []Capability{CapabilityWriteDocs}
	case AgentTypeDebugger:
		return []Capability{CapabilityDebug, CapabilityTroubleshoot}
	default:
		return nil
	}
}

// HasCapability reports whether the set contains the given capability.
func HasCapability(set []Capability, c Capability) bool {
	for _, have := range set {
		if have == c {
			return true
		}
	}
	return false
}
