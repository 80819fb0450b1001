package record

import (
	"fmt"
	"sort"
)

// groupIndexes collects each column's IndexParticipation entries into
// named Index groups, falling back to "{UX|IX}_<table>_<column>" for an
// unnamed participation (spec §3 IndexDescriptor). All participants of one
// name must share the same Unique flag.
func groupIndexes(d *Descriptor) error {
	type group struct {
		unique  bool
		entries []struct {
			order int
			col   string
		}
	}
	groups := map[string]*group{}
	var order []string

	for _, c := range d.Columns {
		for _, p := range c.Indices {
			name := p.Name
			if name == "" {
				prefix := "IX"
				if p.Unique {
					prefix = "UX"
				}
				name = fmt.Sprintf("%s_%s_%s", prefix, d.TableName, c.Name)
			}
			g, ok := groups[name]
			if !ok {
				g = &group{unique: p.Unique}
				groups[name] = g
				order = append(order, name)
			} else if g.unique != p.Unique {
				return fmt.Errorf("record: index %q has inconsistent unique flag across columns", name)
			}
			g.entries = append(g.entries, struct {
				order int
				col   string
			}{p.Order, c.Name})
		}
	}

	for _, name := range order {
		g := groups[name]
		sort.SliceStable(g.entries, func(i, j int) bool { return g.entries[i].order < g.entries[j].order })
		var cols []string
		for _, e := range g.entries {
			cols = append(cols, e.col)
		}
		d.Indexes = append(d.Indexes, Index{Name: name, Unique: g.unique, Columns: cols})
	}
	return nil
}
