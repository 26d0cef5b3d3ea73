package payload

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shohag/formhook/internal/models"
)

// Node is one element of hierarchical submission content. A node with a
// non-nil Children slice is a group; otherwise it is a leaf holding Value.
//
// A repeat node is a group whose children are the instances of a repeating
// group or repeated answer, in Index order. Instances carry the repeat's
// name.
type Node struct {
	Name     string
	Value    string
	Repeat   bool
	Index    int
	Children []*Node
}

func (n *Node) IsGroup() bool {
	return n.Children != nil
}

func newGroup(name string) *Node {
	return &Node{Name: name, Children: []*Node{}}
}

func newRepeat(name string) *Node {
	return &Node{Name: name, Repeat: true, Children: []*Node{}}
}

// splitSegment splits an instance index off a path segment: "rep[2]" is
// ("rep", 2). Segments without a valid index return 0.
func splitSegment(seg string) (string, int) {
	if !strings.HasSuffix(seg, "]") {
		return seg, 0
	}
	i := strings.LastIndexByte(seg, '[')
	if i <= 0 {
		return seg, 0
	}
	idx, err := strconv.Atoi(seg[i+1 : len(seg)-1])
	if err != nil || idx < 1 {
		return seg, 0
	}
	return seg[:i], idx
}

// schemaPath drops instance indexes so "rep[2]/q" becomes "rep/q".
func schemaPath(path string) string {
	if !strings.Contains(path, "[") {
		return path
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i], _ = splitSegment(p)
	}
	return strings.Join(parts, "/")
}

func (n *Node) named(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// child returns the direct child group called name, creating it when missing.
func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name && c.IsGroup() && !c.Repeat {
			return c
		}
	}
	g := newGroup(name)
	n.Children = append(n.Children, g)
	return g
}

// repeat returns the direct repeat child called name, creating it when missing.
func (n *Node) repeat(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name && c.Repeat {
			return c
		}
	}
	r := newRepeat(name)
	n.Children = append(n.Children, r)
	return r
}

// instance returns the group instance idx of repeat node n, inserting it in
// index order when missing.
func (n *Node) instance(idx int) *Node {
	pos := sort.Search(len(n.Children), func(i int) bool { return n.Children[i].Index >= idx })
	if pos < len(n.Children) && n.Children[pos].Index == idx {
		return n.Children[pos]
	}
	g := newGroup(n.Name)
	g.Index = idx
	n.Children = append(n.Children, nil)
	copy(n.Children[pos+1:], n.Children[pos:])
	n.Children[pos] = g
	return g
}

// addLeaf appends a leaf under n. A second answer for the same name turns
// the leaf into a repeat so neither value is dropped.
func (n *Node) addLeaf(name string, idx int, value string) {
	existing := n.named(name)
	switch {
	case existing == nil && idx == 0:
		n.Children = append(n.Children, &Node{Name: name, Value: value})
		return
	case existing == nil:
		existing = n.repeat(name)
	case !existing.IsGroup():
		existing.Index = 1
		r := &Node{Name: name, Repeat: true, Children: []*Node{existing}}
		for i, c := range n.Children {
			if c == existing {
				n.Children[i] = r
			}
		}
		existing = r
	case !existing.Repeat:
		// a group and a leaf share the name; keep the answer beside it
		n.Children = append(n.Children, &Node{Name: name, Value: value})
		return
	}
	if idx == 0 {
		idx = len(existing.Children) + 1
		if last := len(existing.Children); last > 0 && existing.Children[last-1].Index >= idx {
			idx = existing.Children[last-1].Index + 1
		}
	}
	leaf := existing.instance(idx)
	leaf.Children = nil
	leaf.Value = value
}

// Find returns the node at a "/" separated path below n, or nil. An indexed
// segment such as "rep[2]" selects one instance of a repeat.
func (n *Node) Find(path string) *Node {
	cur := n
	for _, part := range strings.Split(path, "/") {
		name, idx := splitSegment(part)
		next := cur.named(name)
		if next == nil {
			return nil
		}
		if idx > 0 {
			if !next.Repeat {
				return nil
			}
			var inst *Node
			for _, c := range next.Children {
				if c.Index == idx {
					inst = c
					break
				}
			}
			if inst == nil {
				return nil
			}
			next = inst
		}
		cur = next
	}
	return cur
}

// Leaves returns the number of leaf nodes below n.
func (n *Node) Leaves() int {
	if !n.IsGroup() {
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += c.Leaves()
	}
	return total
}

// Pair is one leaf of flat submission content. Path segments of repeating
// groups carry the 1-based instance index, e.g. "rep[2]/q".
type Pair struct {
	Path  string
	Value string
}

// Content is a submission extracted in the shape of its format: JSON
// extraction fills Root, XML extraction fills Pairs.
type Content struct {
	Format  models.ExportFormat
	FormUID string
	Root    *Node
	Pairs   []Pair
}

// Tree returns the content as a hierarchy regardless of the extracted shape.
func (c *Content) Tree() *Node {
	if c.Root != nil {
		return c.Root
	}
	return buildTree(c.FormUID, c.Pairs)
}

func buildTree(name string, pairs []Pair) *Node {
	root := newGroup(name)
	for _, p := range pairs {
		parts := strings.Split(p.Path, "/")
		parent := root
		for _, g := range parts[:len(parts)-1] {
			gname, idx := splitSegment(g)
			if idx == 0 {
				parent = parent.child(gname)
				continue
			}
			parent = parent.repeat(gname).instance(idx)
		}
		leaf, idx := splitSegment(parts[len(parts)-1])
		parent.addLeaf(leaf, idx, p.Value)
	}
	return root
}
