package engine

import (
	"sort"

	"github.com/Zuo-Peng/ai-session-graph/internal/scan"
)

// unit is a set of project directories analysed together because they
// are aliases of one logical project.
type unit struct {
	name     string
	projects []scan.Project
}

// groupUnits joins alias-connected projects into units. Projects whose
// directory could not be read are returned as fatal and join no unit.
func groupUnits(projects []scan.Project, aliases map[string][]string) ([]unit, []*ProjectFatalError) {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	var fatal []*ProjectFatalError
	byName := make(map[string]scan.Project)
	for _, p := range projects {
		if p.Err != nil {
			fatal = append(fatal, &ProjectFatalError{Project: p.Name, Err: p.Err})
			continue
		}
		byName[p.Name] = p
		parent[p.Name] = p.Name
	}

	for canonical, names := range aliases {
		if _, ok := byName[canonical]; !ok {
			// the canonical name may only exist as an alias target
			for i, a := range names {
				if _, ok := byName[a]; !ok {
					continue
				}
				for _, b := range names[i+1:] {
					if _, ok := byName[b]; ok {
						union(a, b)
					}
				}
				break
			}
			continue
		}
		for _, a := range names {
			if _, ok := byName[a]; ok {
				union(canonical, a)
			}
		}
	}

	members := make(map[string][]string)
	for name := range byName {
		r := find(name)
		members[r] = append(members[r], name)
	}

	units := make([]unit, 0, len(members))
	for _, names := range members {
		sort.Strings(names)
		u := unit{name: unitName(names, aliases)}
		for _, n := range names {
			u.projects = append(u.projects, byName[n])
		}
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].name < units[j].name })
	return units, fatal
}

// unitName prefers a configured canonical name among the members.
func unitName(names []string, aliases map[string][]string) string {
	for _, n := range names {
		if _, ok := aliases[n]; ok {
			return n
		}
	}
	return names[0]
}
