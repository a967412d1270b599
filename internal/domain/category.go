package domain

import (
	"fmt"
	"sort"
)

// CategoryTree indexes categories by id and by parent so lookups never follow
// object references.
type CategoryTree struct {
	byID     map[string]Category
	children map[string][]string
	roots    []string
}

// NewCategoryTree fails when a parent is missing or the parent links form a
// cycle.
func NewCategoryTree(categories []Category) (*CategoryTree, error) {
	t := &CategoryTree{
		byID:     make(map[string]Category, len(categories)),
		children: make(map[string][]string),
	}
	for _, c := range categories {
		if _, dup := t.byID[c.ID]; dup {
			return nil, Invalid("category", fmt.Sprintf("duplicate id %s", c.ID))
		}
		t.byID[c.ID] = c
	}
	for _, c := range categories {
		if c.ParentID == "" {
			t.roots = append(t.roots, c.ID)
			continue
		}
		if _, ok := t.byID[c.ParentID]; !ok {
			return nil, Invalid("parent_id", fmt.Sprintf("category %s references unknown parent %s", c.ID, c.ParentID))
		}
		t.children[c.ParentID] = append(t.children[c.ParentID], c.ID)
	}
	for id := range t.byID {
		if err := t.checkAcyclic(id); err != nil {
			return nil, err
		}
	}
	t.sortIDs(t.roots)
	for parent := range t.children {
		t.sortIDs(t.children[parent])
	}
	return t, nil
}

func (t *CategoryTree) checkAcyclic(id string) error {
	seen := map[string]bool{}
	for cur := id; cur != ""; cur = t.byID[cur].ParentID {
		if seen[cur] {
			return Invalid("parent_id", fmt.Sprintf("category %s is part of a cycle", id))
		}
		seen[cur] = true
	}
	return nil
}

func (t *CategoryTree) sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := t.byID[ids[i]], t.byID[ids[j]]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

func (t *CategoryTree) Get(id string) (Category, bool) {
	c, ok := t.byID[id]
	return c, ok
}

func (t *CategoryTree) Roots() []Category {
	return t.collect(t.roots)
}

func (t *CategoryTree) Children(id string) []Category {
	return t.collect(t.children[id])
}

// Path returns the chain from the root down to id, inclusive.
func (t *CategoryTree) Path(id string) []Category {
	var path []Category
	for cur := id; cur != ""; {
		c, ok := t.byID[cur]
		if !ok {
			return nil
		}
		path = append(path, c)
		cur = c.ParentID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Descendants lists every category below id in depth-first order.
func (t *CategoryTree) Descendants(id string) []Category {
	var out []Category
	var walk func(string)
	walk = func(parent string) {
		for _, child := range t.children[parent] {
			out = append(out, t.byID[child])
			walk(child)
		}
	}
	walk(id)
	return out
}

// WouldCycle reports whether attaching id under parentID would close a loop.
func (t *CategoryTree) WouldCycle(id, parentID string) bool {
	for cur := parentID; cur != ""; cur = t.byID[cur].ParentID {
		if cur == id {
			return true
		}
		if _, ok := t.byID[cur]; !ok {
			return false
		}
	}
	return false
}

func (t *CategoryTree) collect(ids []string) []Category {
	out := make([]Category, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[id])
	}
	return out
}

// CategoryNode is the nested JSON shape of the tree.
type CategoryNode struct {
	Category
	Children []CategoryNode `json:"children,omitempty"`
}

func (t *CategoryTree) Nodes() []CategoryNode {
	var build func([]string) []CategoryNode
	build = func(ids []string) []CategoryNode {
		nodes := make([]CategoryNode, 0, len(ids))
		for _, id := range ids {
			nodes = append(nodes, CategoryNode{Category: t.byID[id], Children: build(t.children[id])})
		}
		return nodes
	}
	return build(t.roots)
}
