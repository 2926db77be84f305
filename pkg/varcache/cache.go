// Package varcache implements the variable-cache façade (component C7): a
// rooted DAG of lazily-expanded variable nodes, keyed by stable integer
// handles so that re-parenting a subtree ("adopt grand-children") never
// needs pointer surgery -- just rewriting which handle a (parent, child)
// edge points at. Grounded on spec §9's design note ("use an arena keyed by
// stable integer handles...") and, for the dispatch shape, on
// jetsetilly/gopher2600's coprocessor/developer/source_types_variables.go,
// which lazily expands struct/pointer DWARF types into child Variable nodes
// on first access rather than eagerly walking the whole type graph.
//
// The actual DWARF type interpretation (resolving an offset to a type,
// deciding what a pointed-to type's children are) is explicitly out of
// scope here (spec §1: "The variable-value expression evaluator ... beyond
// the lazy-cache hooks it exposes"); it is reached through the TypeResolver
// hook below, supplied by that (separate) evaluator.
package varcache

import "fmt"

// Key is a synthetic, process-lifetime-unique handle for one variable node.
type Key uint64

// Kind discriminates what a Node needs to do to expand its children.
type Kind int

const (
	// KindConcrete is a fully materialized value with no further deferred
	// expansion.
	KindConcrete Kind = iota
	// KindDirectLookup resolves its children from its anchor DIE at Offset:
	// the unit's top DIE or a subprogram DIE.
	KindDirectLookup
	// KindTypeOffset expands the children of the DIE at Offset.
	KindTypeOffset
	// KindReferenceOffset follows a pointer-like type at Offset.
	KindReferenceOffset
	// KindLeaf has no children and never expands.
	KindLeaf
)

// Node is one entry of the cache: a name, its expansion Kind and the DIE
// offset that kind dispatches on (meaningless for KindConcrete/KindLeaf).
type Node struct {
	Name   string
	Kind   Kind
	Offset uint64 // DIE offset, meaningful for DirectLookup/TypeOffset/ReferenceOffset
	// UnitOffset anchors a DirectLookup node to the compile unit it belongs
	// to, since "the unit's top DIE" (spec §4.5) depends on which unit the
	// frame's function lives in.
	UnitOffset uint64
}

// Cache is one frame's static-scope or function-scope variable DAG.
type Cache struct {
	nodes    map[Key]Node
	children map[Key][]Key
	parent   map[Key]Key
	next     Key
}

// New builds an empty Cache seeded with a single root DirectLookup node
// pointing at unitOffset (the unit's top DIE) or subprogramOffset
// (the function's subprogram DIE) -- spec §4.5: "two empty caches are
// seeded: a static-scope root ... and a function-scope root ..., neither is
// expanded until requested."
func New(rootName string, unitOffset, anchorOffset uint64) (*Cache, Key) {
	c := &Cache{
		nodes:    make(map[Key]Node),
		children: make(map[Key][]Key),
		parent:   make(map[Key]Key),
	}
	root := c.insertRaw(0, Node{
		Name:       rootName,
		Kind:       KindDirectLookup,
		UnitOffset: unitOffset,
		Offset:     anchorOffset,
	})
	return c, root
}

func (c *Cache) insertRaw(parent Key, n Node) Key {
	c.next++
	k := c.next
	c.nodes[k] = n
	if parent != 0 {
		c.children[parent] = append(c.children[parent], k)
		c.parent[k] = parent
	}
	return k
}

// Insert adds child as a new node under parent, returning its key.
func (c *Cache) Insert(parent Key, n Node) Key {
	return c.insertRaw(parent, n)
}

// Children returns parent's current children, in insertion order.
func (c *Cache) Children(parent Key) []Key {
	return append([]Key(nil), c.children[parent]...)
}

// HasChildren reports whether parent has already been expanded; deferred
// expansion is gated on this being false (spec §4.5: "idempotent: gated on
// 'parent currently has no children'").
func (c *Cache) HasChildren(parent Key) bool {
	return len(c.children[parent]) > 0
}

// Node looks up a node's data by key.
func (c *Cache) Node(k Key) (Node, bool) {
	n, ok := c.nodes[k]
	return n, ok
}

// Remove deletes a node and its entire subtree.
func (c *Cache) Remove(k Key) {
	for _, child := range c.children[k] {
		c.Remove(child)
	}
	delete(c.nodes, k)
	delete(c.children, k)
	if p, ok := c.parent[k]; ok {
		siblings := c.children[p]
		for i, s := range siblings {
			if s == k {
				c.children[p] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	delete(c.parent, k)
}

// AdoptGrandChildren re-parents every child of temp onto real, then removes
// temp itself (its own node record, not its former children). This is the
// "atomic materialization" trick of spec §4.5: a TypeOffset/DirectLookup
// node's subtree is built under a throwaway temporary key so the real
// parent's identity never observably has a half-built child list, then the
// finished subtree is adopted in one bulk re-parent.
func (c *Cache) AdoptGrandChildren(real, temp Key) {
	kids := c.children[temp]
	for _, k := range kids {
		c.parent[k] = real
	}
	c.children[real] = append(c.children[real], kids...)
	delete(c.children, temp)
	delete(c.nodes, temp)
	delete(c.parent, temp)
}

// TypeResolver is the hook into the (out-of-scope) variable-value
// expression evaluator: given a DIE offset, it reports whether that type is
// the DWARF unit type (void), and, for ReferenceOffset expansion, whether
// it is a pointer-like "Option<&T>"-shaped type whose synthesized child
// should be named with a leading '*' rather than '&'.
type TypeResolver interface {
	IsUnitType(offset uint64) bool
	IsOptionalReference(offset uint64) bool
	// ExpandInto asks the resolver to populate temp's children by examining
	// the DIE at offset (a struct/union/array's members, or -- for
	// DirectLookup -- a unit/subprogram's in-scope variables).
	ExpandInto(cache *Cache, temp Key, offset uint64) error
}

// ErrAlreadyExpanded is returned by Expand when parent already has children
// and the caller didn't check HasChildren first; expansion is idempotent,
// this is a programming-error guard rather than something callers need to
// branch on.
var ErrAlreadyExpanded = fmt.Errorf("varcache: parent already expanded")

// Expand performs the deferred expansion dispatch of spec §4.5 for parent,
// using resolver to do the actual DWARF type interpretation.
func (c *Cache) Expand(parent Key, resolver TypeResolver) error {
	if c.HasChildren(parent) {
		return nil // idempotent: no-op once expanded.
	}
	n, ok := c.nodes[parent]
	if !ok {
		return fmt.Errorf("varcache: unknown node %d", parent)
	}

	switch n.Kind {
	case KindLeaf, KindConcrete:
		return nil

	case KindReferenceOffset:
		if resolver.IsUnitType(n.Offset) {
			return nil // drop: pointee resolves to the unit (void) type.
		}
		childName := "*" + n.Name
		if resolver.IsOptionalReference(n.Offset) && len(n.Name) > 0 && n.Name[0] == '&' {
			childName = "*" + n.Name[1:]
		}
		child := c.Insert(parent, Node{Name: childName, Kind: KindTypeOffset, Offset: n.Offset})
		return resolver.ExpandInto(c, child, n.Offset)

	case KindTypeOffset:
		temp := c.insertRaw(0, Node{Name: n.Name, Kind: KindConcrete})
		if err := resolver.ExpandInto(c, temp, n.Offset); err != nil {
			c.Remove(temp)
			return err
		}
		c.AdoptGrandChildren(parent, temp)
		return nil

	case KindDirectLookup:
		// Offset is the node's anchor DIE: the unit's top DIE for a
		// static-scope root, the subprogram DIE for a function-scope root.
		temp := c.insertRaw(0, Node{Name: n.Name, Kind: KindConcrete})
		if err := resolver.ExpandInto(c, temp, n.Offset); err != nil {
			c.Remove(temp)
			return err
		}
		c.AdoptGrandChildren(parent, temp)
		return nil

	default:
		return fmt.Errorf("varcache: unknown node kind %d", n.Kind)
	}
}
