package safety

import "github.com/devsec-arena/arena/pkg/arena"

// KubectlPatterns returns the built-in pattern sequence for kubectl-backed
// domains. Critical patterns for shared cluster infrastructure come first;
// warning patterns covering the training namespace follow. Order matters:
// evaluation is first-match-wins.
func KubectlPatterns(namespace string) []arena.Pattern {
	return []arena.Pattern{
		{
			Expr:       `kubectl\s+delete\s+namespace\s+(kube-system|kube-public|kube-node-lease|default)`,
			Message:    "Cannot delete critical system namespaces",
			Severity:   arena.SeverityCritical,
			Suggestion: "Work inside the " + namespace + " namespace instead",
		},
		{
			Expr:       `kubectl\s+delete\s+node`,
			Message:    "Cannot delete cluster nodes",
			Severity:   arena.SeverityCritical,
			Suggestion: "Nodes are cluster infrastructure",
		},
		{
			Expr:       `kubectl\s+delete\s+.*--all-namespaces`,
			Message:    "Cannot delete resources across all namespaces",
			Severity:   arena.SeverityCritical,
			Suggestion: "Scope the deletion with -n " + namespace,
		},
		{
			Expr:       `kubectl\s+delete\s+crd`,
			Message:    "Cannot delete CustomResourceDefinitions",
			Severity:   arena.SeverityCritical,
			Suggestion: "CRDs affect the entire cluster",
		},
		{
			Expr:       `kubectl\s+delete\s+(clusterrole|clusterrolebinding)`,
			Message:    "Cannot delete cluster-level RBAC resources",
			Severity:   arena.SeverityCritical,
			Suggestion: "Use namespaced Roles instead",
		},
		{
			Expr:       `kubectl\s+delete\s+namespace\s+` + namespace,
			Message:    "This deletes the whole " + namespace + " namespace and your work in it",
			Severity:   arena.SeverityWarning,
			Suggestion: "Delete individual resources instead",
		},
		{
			Expr:       `kubectl\s+delete\s+\w+\s+--all\b`,
			Message:    "This deletes every resource of that type in the namespace",
			Severity:   arena.SeverityWarning,
			Suggestion: "Delete specific resources by name",
		},
		{
			Expr:       `kubectl\s+delete\s+pv\b`,
			Message:    "Deleting PersistentVolumes can cause data loss",
			Severity:   arena.SeverityWarning,
			Suggestion: "Make sure the data is backed up",
		},
	}
}

// ComposePatterns returns the built-in pattern sequence for compose-backed
// domains. Compose provides network isolation by default, so the set is
// smaller: it protects the host Docker environment, not the challenge.
func ComposePatterns(project string) []arena.Pattern {
	return []arena.Pattern{
		{
			Expr:       `docker\s+system\s+prune`,
			Message:    "Cannot prune the host Docker environment",
			Severity:   arena.SeverityCritical,
			Suggestion: "Clean up only the " + project + " project containers",
		},
		{
			Expr:       `docker\s+(volume|network)\s+prune`,
			Message:    "Cannot prune host volumes or networks",
			Severity:   arena.SeverityCritical,
			Suggestion: "Remove resources by name instead",
		},
		{
			Expr:     `docker\s+run\s+.*--privileged`,
			Message:  "Privileged containers can escape to the host",
			Severity: arena.SeverityWarning,
		},
		{
			Expr:       `docker\s+run\s+.*-v\s+/:/`,
			Message:    "Bind-mounting the host root exposes the whole filesystem",
			Severity:   arena.SeverityWarning,
			Suggestion: "Mount only the directory the challenge needs",
		},
		{
			Expr:     `docker\s+(stop|rm)\s+.*\$\(docker\s+ps`,
			Message:  "This affects every container on the host, not just the challenge",
			Severity: arena.SeverityWarning,
		},
	}
}
