package permission

// GrantChecker reports live grant state.
type GrantChecker interface {
	IsGranted(p Permission) bool
}

// RationaleChecker reports whether the platform wants a rationale shown before asking.
type RationaleChecker interface {
	ShouldShowRationale(p Permission) bool
}

// GrantFunc adapts a function to GrantChecker.
type GrantFunc func(Permission) bool

// IsGranted implements GrantChecker.
func (f GrantFunc) IsGranted(p Permission) bool { return f(p) }

// RationaleFunc adapts a function to RationaleChecker.
type RationaleFunc func(Permission) bool

// ShouldShowRationale implements RationaleChecker.
func (f RationaleFunc) ShouldShowRationale(p Permission) bool { return f(p) }

// Evaluation splits the outstanding requirements by how they must be requested.
// Silent and Rationale are disjoint and both keep catalog order.
type Evaluation struct {
	Silent    []Permission
	Rationale []Permission
}

// Empty reports whether nothing remains to request.
func (e Evaluation) Empty() bool {
	return len(e.Silent) == 0 && len(e.Rationale) == 0
}

// Evaluate checks every version-applicable requirement against live grant state.
func Evaluate(c *Catalog, version int, grants GrantChecker, rationale RationaleChecker) Evaluation {
	var ev Evaluation
	for _, r := range c.RequirementsFor(version) {
		if grants.IsGranted(r.Permission) {
			continue
		}
		if rationale.ShouldShowRationale(r.Permission) {
			ev.Rationale = append(ev.Rationale, r.Permission)
		} else {
			ev.Silent = append(ev.Silent, r.Permission)
		}
	}
	return ev
}
