package payload

import (
	"strings"

	"github.com/shohag/formhook/internal/models"
)

// selected reports whether path is kept by the subset list. Naming a group
// keeps everything below it; the version and record id are always kept.
func selected(path string, subset []string) bool {
	if len(subset) == 0 || path == models.VersionField || path == models.IDField {
		return true
	}
	for _, s := range subset {
		s = strings.Trim(s, "/")
		if path == s || strings.HasPrefix(path, s+"/") {
			return true
		}
	}
	return false
}

func filterPairs(pairs []Pair, subset []string) []Pair {
	if len(subset) == 0 {
		return pairs
	}
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if selected(schemaPath(p.Path), subset) {
			out = append(out, p)
		}
	}
	return out
}

// filterTree copies n keeping only selected leaves and the groups that
// still contain one. prefix is the path of n itself ("" for the root).
func filterTree(n *Node, prefix string, subset []string) *Node {
	if len(subset) == 0 {
		return n
	}
	out := newGroup(n.Name)
	for _, c := range n.Children {
		path := c.Name
		if prefix != "" {
			path = prefix + "/" + c.Name
		}
		if !c.IsGroup() {
			if selected(path, subset) {
				out.Children = append(out.Children, &Node{Name: c.Name, Value: c.Value})
			}
			continue
		}
		if c.Repeat {
			if r := filterRepeat(c, path, subset); len(r.Children) > 0 {
				out.Children = append(out.Children, r)
			}
			continue
		}
		if g := filterTree(c, path, subset); len(g.Children) > 0 {
			out.Children = append(out.Children, g)
		}
	}
	return out
}

// filterRepeat filters every instance of r against the repeat's own path.
func filterRepeat(r *Node, path string, subset []string) *Node {
	out := newRepeat(r.Name)
	for _, inst := range r.Children {
		if !inst.IsGroup() {
			if selected(path, subset) {
				out.Children = append(out.Children, &Node{Name: inst.Name, Value: inst.Value, Index: inst.Index})
			}
			continue
		}
		g := filterTree(inst, path, subset)
		g.Index = inst.Index
		if len(g.Children) > 0 {
			out.Children = append(out.Children, g)
		}
	}
	return out
}

// Filter returns content restricted to the subset paths. Unknown paths are
// ignored.
func Filter(c *Content, subset []string) *Content {
	out := &Content{Format: c.Format, FormUID: c.FormUID}
	if c.Root != nil {
		out.Root = filterTree(c.Root, "", subset)
	}
	if c.Pairs != nil {
		out.Pairs = filterPairs(c.Pairs, subset)
	}
	return out
}
