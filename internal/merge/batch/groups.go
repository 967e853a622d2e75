package batch

import (
	"slices"

	"icstore/internal/constellation/models"
	pstrings "icstore/pkg/platform/strings"
)

// FindGroups returns the candidate duplicate groups in names: constellations
// sharing a case-folded name are candidates, and candidates linked through
// any shared name form one group. Each group is sorted ascending and groups
// are ordered by their lowest id.
func FindGroups(names []models.NameRow) [][]int64 {
	byKey := make(map[string][]int64)
	for _, n := range names {
		key := pstrings.FoldKey(n.Original)
		if key == "" {
			continue
		}
		byKey[key] = append(byKey[key], n.ICID)
	}

	uf := newUnionFind()
	for _, ids := range byKey {
		for _, id := range ids[1:] {
			uf.union(ids[0], id)
		}
	}

	members := make(map[int64][]int64)
	for _, ids := range byKey {
		for _, id := range ids {
			root := uf.find(id)
			if !slices.Contains(members[root], id) {
				members[root] = append(members[root], id)
			}
		}
	}

	var groups [][]int64
	for _, ids := range members {
		if len(ids) < 2 {
			continue
		}
		slices.Sort(ids)
		groups = append(groups, ids)
	}
	slices.SortFunc(groups, func(a, b []int64) int {
		switch {
		case a[0] < b[0]:
			return -1
		case a[0] > b[0]:
			return 1
		}
		return 0
	})
	return groups
}

type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) find(x int64) int64 {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

// union keeps the smaller id as root.
func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra == rb:
	case ra < rb:
		u.parent[rb] = ra
	default:
		u.parent[ra] = rb
	}
}
