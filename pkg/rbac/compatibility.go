package rbac

// ClusterOf returns the cluster a role belongs to
func ClusterOf(r Role) Cluster {
	switch r {
	case Teacher, Administrator:
		return ClusterStaff
	default:
		return ClusterParticipant
	}
}

// ClusterRoles returns the members of a cluster
func ClusterRoles(c Cluster) []Role {
	if c == ClusterStaff {
		return []Role{Teacher, Administrator}
	}
	return []Role{Learner, TeachingAssistant}
}

// IsCompatible reports whether candidate can be held alongside current.
// Every member of a valid set shares one cluster, so checking the first suffices.
func IsCompatible(current RoleSet, candidate Role) bool {
	if current.Contains(candidate) {
		return true
	}
	first, ok := current.First()
	if !ok {
		return true
	}
	return ClusterOf(candidate) == ClusterOf(first)
}

// AvailableRolesFor returns current plus every role compatible with it.
// For a non-empty set that is its whole cluster.
func AvailableRolesFor(current RoleSet) []Role {
	available := current.Slice()
	for _, r := range AllRoles() {
		if !current.Contains(r) && IsCompatible(current, r) {
			available = append(available, r)
		}
	}
	return available
}
