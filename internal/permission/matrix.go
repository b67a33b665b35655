// Package permission decides whether a package's requested permissions are
// covered by the companion application's grants and, when they are not,
// whether an interactive grant flow must run before installation.
//
// Everything here is pure: no I/O, no logging, no clock.
//
// Version matrix, applied only when some requested permission is unavailable
// (M is LegacyThreshold; "targeting M" means target > M, "running M" means
// running version > M):
//
//	companion known | companion targeting&running M | package targeting M | device running M | action
//	no              | -                             | yes                 | no               | RequireInteractiveGrant
//	no              | -                             | yes                 | yes              | Approved
//	no              | -                             | no                  | -                | Approved
//	yes             | yes                           | no                  | -                | RequireInteractiveGrant (target mismatch)
//	yes             | yes                           | yes                 | no               | RequireInteractiveGrant
//	yes             | yes                           | yes                 | yes              | Approved
//	yes             | no                            | -                   | -                | Approved
package permission

// LegacyThreshold is the last platform version using install-time grants.
// Versions above it use the runtime permission model.
const LegacyThreshold = 22

// Action is the outcome of Decide.
type Action int

const (
	Approved Action = iota
	RequireInteractiveGrant
)

func (a Action) String() string {
	switch a {
	case Approved:
		return "approved"
	case RequireInteractiveGrant:
		return "require_interactive_grant"
	default:
		return "unknown"
	}
}

// Input carries the version signals and the unavailable permission set.
// Zero companion versions mean unknown.
type Input struct {
	CompanionSDKVersion    int
	CompanionDeviceVersion int
	PackageTargetSDK       int
	DeviceSDKVersion       int
	Unavailable            []string
}

// Decision is the matrix output.
type Decision struct {
	Action      Action
	Unavailable []string
	// TargetMismatch is set when the companion uses the runtime model but
	// the package still targets the legacy one. Callers should warn.
	TargetMismatch bool
}

// Decide applies the version matrix.
func Decide(in Input) Decision {
	d := Decision{Action: Approved, Unavailable: in.Unavailable}
	if len(in.Unavailable) == 0 {
		return d
	}

	companionTargetingM := in.CompanionSDKVersion > LegacyThreshold
	companionRunningM := in.CompanionDeviceVersion > LegacyThreshold
	packageTargetingM := in.PackageTargetSDK > LegacyThreshold
	deviceRunningM := in.DeviceSDKVersion > LegacyThreshold

	switch {
	case in.CompanionSDKVersion == 0 || in.CompanionDeviceVersion == 0:
		// Companion versions unknown: only the package/device pair matters.
		if packageTargetingM && !deviceRunningM {
			d.Action = RequireInteractiveGrant
		}
	case companionTargetingM && companionRunningM:
		if !packageTargetingM {
			d.Action = RequireInteractiveGrant
			d.TargetMismatch = true
		} else if !deviceRunningM {
			d.Action = RequireInteractiveGrant
		}
	}
	return d
}

// Table is the companion's grant table keyed by permission name.
type Table map[string]bool

// TableFromRows builds a Table from raw (name, granted) rows. Rows that do not
// have exactly two columns, a string name and an integer grant flag are
// skipped. A flag of 1 means granted; any other integer means declared but
// not granted.
func TableFromRows(rows [][]any) Table {
	t := make(Table, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			continue
		}
		name, ok := asString(row[0])
		if !ok {
			continue
		}
		granted, ok := asInt(row[1])
		if !ok {
			continue
		}
		// A name listed twice counts as granted if any row grants it.
		t[name] = t[name] || granted == 1
	}
	return t
}

// Partition splits requested into granted and unavailable names, preserving
// request order. Absent lists the unavailable names missing from the table
// entirely; it is always a subset of unavailable.
func Partition(table Table, requested []string) (granted, unavailable, absent []string) {
	seen := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		g, declared := table[name]
		switch {
		case g:
			granted = append(granted, name)
		case declared:
			unavailable = append(unavailable, name)
		default:
			unavailable = append(unavailable, name)
			absent = append(absent, name)
		}
	}
	return granted, unavailable, absent
}

// Signals are the version inputs to Evaluate.
type Signals struct {
	CompanionSDKVersion    int
	CompanionDeviceVersion int
	PackageTargetSDK       int
	DeviceSDKVersion       int
}

// Result is the combined outcome of Partition and Decide.
type Result struct {
	Decision
	Granted []string
	Absent  []string
}

// Satisfied reports whether every requested permission is granted.
func (r Result) Satisfied() bool { return len(r.Unavailable) == 0 }

// Evaluate partitions requested against table and runs the matrix.
func Evaluate(table Table, requested []string, s Signals) Result {
	granted, unavailable, absent := Partition(table, requested)
	d := Decide(Input{
		CompanionSDKVersion:    s.CompanionSDKVersion,
		CompanionDeviceVersion: s.CompanionDeviceVersion,
		PackageTargetSDK:       s.PackageTargetSDK,
		DeviceSDKVersion:       s.DeviceSDKVersion,
		Unavailable:            unavailable,
	})
	return Result{Decision: d, Granted: granted, Absent: absent}
}

// Without returns the names in requested that are not in drop, as a new slice.
func Without(requested []string, drop map[string]struct{}) []string {
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := drop[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
