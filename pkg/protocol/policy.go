package protocol

// CapabilityPolicy describes what an agent with a given capability may do:
// which child capabilities it can spawn, which tools it may invoke, and the
// path prefix its edits must stay under ("" means unrestricted).
type CapabilityPolicy struct {
	SpawnableChildren []Capability
	ToolWhitelist     []string
	PathBoundary      string
}

// capabilityPolicies is the closed capability -> policy table. Roles are
// data, not subtypes; callers look up behavior here instead of dispatching
// on concrete agent types.
var capabilityPolicies = map[Capability]CapabilityPolicy{
	CapCoordinator: {
		SpawnableChildren: []Capability{CapSupervisor, CapLead, CapScout, CapMonitor},
		ToolWhitelist:     []string{"mail", "spawn", "status", "merge"},
	},
	CapSupervisor: {
		SpawnableChildren: []Capability{CapLead, CapBuilder, CapScout, CapReviewer},
		ToolWhitelist:     []string{"mail", "spawn", "status"},
	},
	CapLead: {
		SpawnableChildren: []Capability{CapBuilder, CapScout, CapReviewer},
		ToolWhitelist:     []string{"mail", "spawn", "status", "read", "grep"},
	},
	CapBuilder: {
		ToolWhitelist: []string{"mail", "read", "write", "edit", "bash", "grep"},
	},
	CapScout: {
		ToolWhitelist: []string{"mail", "read", "grep", "glob"},
		PathBoundary:  ".overstory/specs",
	},
	CapReviewer: {
		ToolWhitelist: []string{"mail", "read", "grep", "glob"},
	},
	CapMerger: {
		ToolWhitelist: []string{"mail", "read", "bash", "merge"},
	},
	CapMonitor: {
		ToolWhitelist: []string{"mail", "status"},
	},
}

// PolicyFor returns the policy for c. Unknown capabilities get an empty
// policy: nothing spawnable, no tools.
func PolicyFor(c Capability) CapabilityPolicy {
	return capabilityPolicies[c]
}

// CanSpawn reports whether a parent capability may spawn a child capability.
func CanSpawn(parent, child Capability) bool {
	for _, c := range capabilityPolicies[parent].SpawnableChildren {
		if c == child {
			return true
		}
	}
	return false
}
