package router

import "github.com/torqconsole/agentcore/pkg/capability"

// capabilityTable maps each intent to its required, ordered capability
// set (spec §4.4 step 2). Order matters for intents like research, whose
// pipeline stages follow this sequence.
var capabilityTable = map[Intent][]capability.Capability{
	IntentConversational: {capability.Conversational},
	IntentSearch:          {capability.Search},
	IntentCodeGeneration:  {capability.CodeGeneration},
	IntentDebugging:       {capability.Analysis, capability.CodeGeneration},
	IntentDocumentation:   {capability.Documentation},
	IntentTesting:         {capability.Testing},
	IntentArchitecture:    {capability.Analysis, capability.Synthesis},
	IntentResearch:        {capability.Search, capability.Analysis, capability.Synthesis, capability.Response},
	IntentOrchestration:   {capability.Orchestration},
	IntentUnknown:         {capability.Conversational},
}

// RequiredCapabilities returns the ordered capability set for an intent.
func RequiredCapabilities(intent Intent) []capability.Capability {
	caps, ok := capabilityTable[intent]
	if !ok {
		return capabilityTable[IntentUnknown]
	}
	out := make([]capability.Capability, len(caps))
	copy(out, caps)
	return out
}
