package dataset

import (
	"errors"
	"fmt"
)

// Combine merges members into one dataset aligned on every dimension
// coordinate. Coordinates that differ between members are replaced by their
// sorted union and cells a member does not cover read as NaN. Variables with
// the same name in several members are laid onto the union grid, later
// members winning where they overlap. Attributes and spatial dimensions are
// taken from the first member.
func Combine(members ...*Dataset) (*Dataset, error) {
	if len(members) == 0 {
		return nil, errors.New("combine: no members")
	}
	if len(members) == 1 {
		return members[0].Clone(), nil
	}

	out := New()
	out.Attrs = members[0].Attrs.Clone()
	out.xDim, out.yDim = members[0].xDim, members[0].yDim

	// Dimension order follows first appearance across members.
	var dims []string
	seen := make(map[string]bool)
	for _, m := range members {
		for _, d := range m.dims {
			if !seen[d] {
				seen[d] = true
				dims = append(dims, d)
			}
		}
	}

	// identity[d][i] reports whether member i shares the combined coordinate of d.
	identity := make(map[string][]bool, len(dims))
	lookup := make(map[string]map[string]int, len(dims))
	for _, d := range dims {
		var coords []*Coord
		var sizes []int
		for _, m := range members {
			if n, ok := m.sizes[d]; ok {
				sizes = append(sizes, n)
				if c, ok := m.coords[d]; ok {
					coords = append(coords, c)
				}
			}
		}
		if len(coords) == 0 {
			for _, n := range sizes[1:] {
				if n != sizes[0] {
					return nil, fmt.Errorf("combine: dimension %s has no coordinate and differing lengths", d)
				}
			}
			out.dims = append(out.dims, d)
			out.sizes[d] = sizes[0]
			ident := make([]bool, len(members))
			for i := range ident {
				ident[i] = true
			}
			identity[d] = ident
			continue
		}
		if len(coords) != len(sizes) {
			return nil, fmt.Errorf("combine: dimension %s has a coordinate in only some members", d)
		}

		combined := coords[0]
		same := true
		for _, c := range coords[1:] {
			if !equalCoords(combined, c) {
				same = false
				break
			}
		}
		if !same {
			var err error
			if combined, err = unionCoords(d, coords); err != nil {
				return nil, fmt.Errorf("combine: %w", err)
			}
		}
		if err := out.AddCoord(combined); err != nil {
			return nil, fmt.Errorf("combine: %w", err)
		}

		ident := make([]bool, len(members))
		for i, m := range members {
			if c, ok := m.coords[d]; ok {
				ident[i] = same || equalCoords(combined, c)
			}
		}
		identity[d] = ident
		keys := make(map[string]int, combined.Len())
		for i := 0; i < combined.Len(); i++ {
			keys[combined.Key(i)] = i
		}
		lookup[d] = keys
	}

	type part struct {
		member int
		v      *Variable
	}
	parts := make(map[string][]part)
	var order []string
	for i, m := range members {
		for _, name := range m.VariableNames() {
			if _, ok := parts[name]; !ok {
				order = append(order, name)
			}
			parts[name] = append(parts[name], part{member: i, v: m.vars[name]})
		}
	}

	for _, name := range order {
		ps := parts[name]
		first := ps[0].v
		shape := make([]int, len(first.Dims))
		for a, d := range first.Dims {
			shape[a] = out.sizes[d]
		}
		var pieces []piece
		for _, p := range ps {
			if !sameDims(first.Dims, p.v.Dims) {
				return nil, fmt.Errorf("combine: variable %s has dims %v and %v", name, first.Dims, p.v.Dims)
			}
			maps := make([][]int, len(p.v.Dims))
			for a, d := range p.v.Dims {
				if identity[d][p.member] {
					continue
				}
				c := members[p.member].coords[d]
				m := make([]int, out.sizes[d])
				for k := range m {
					m[k] = -1
				}
				for j := 0; j < c.Len(); j++ {
					m[lookup[d][c.Key(j)]] = j
				}
				maps[a] = m
			}
			pieces = append(pieces, piece{src: p.v.src, maps: maps})
		}

		var src Source
		if len(pieces) == 1 && allNil(pieces[0].maps) {
			src = pieces[0].src
		} else {
			src = &mosaicSource{shape: shape, pieces: pieces}
		}
		if err := out.AddVariable(first.withSource(src, first.Dims)); err != nil {
			return nil, fmt.Errorf("combine: %w", err)
		}
	}
	return out, nil
}

func sameDims(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allNil(maps [][]int) bool {
	for _, m := range maps {
		if m != nil {
			return false
		}
	}
	return true
}
