package graph

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/ident"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = 1

var ErrBadSnapshot = errors.New("malformed snapshot")

// Snapshot is the persisted form of a graph. Nodes are listed parents
// before children.
type Snapshot struct {
	Version int            `yaml:"version"`
	Nodes   []NodeSnapshot `yaml:"nodes"`
}

type NodeSnapshot struct {
	ID         string              `yaml:"id"`
	Name       string              `yaml:"name"`
	Type       string              `yaml:"type"`
	Parent     string              `yaml:"parent,omitempty"`
	Inactive   bool                `yaml:"inactive,omitempty"`
	Fields     map[string]string   `yaml:"fields,omitempty"`
	Transform  *ecs.Transform      `yaml:"transform,omitempty"`
	Components []ComponentSnapshot `yaml:"components,omitempty"`
}

type ComponentSnapshot struct {
	ID    string    `yaml:"id"`
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value"`
}

// Snapshot captures every live logical node with its components.
func (g *Graph) Snapshot() (*Snapshot, error) {
	s := &Snapshot{Version: SnapshotVersion}
	var errs []error
	err := g.ForEachNode(func(h ecs.Handle, n *Node, comps []ecs.ComponentRef) bool {
		ns := NodeSnapshot{
			ID:   h.ID.String(),
			Name: n.Name,
			Type: g.typeName(n.Type),
		}
		ns.Inactive = !g.world.Active(n.runtime)
		if p := g.nodes.Resolve(n.parent); p != nil {
			ns.Parent = n.parent.ID.String()
		}
		if len(n.Fields) > 0 {
			ns.Fields = make(map[string]string, len(n.Fields))
			for k, v := range n.Fields {
				ns.Fields[k] = v
			}
		}
		if t, ok := g.world.Hierarchy().LocalTransform(n.runtime); ok {
			ns.Transform = &t
		}
		for _, c := range comps {
			cs, err := g.snapshotComponent(c)
			if err != nil {
				errs = append(errs, fmt.Errorf("snapshot %s: %w", ns.ID, err))
				continue
			}
			ns.Components = append(ns.Components, cs)
		}
		s.Nodes = append(s.Nodes, ns)
		return true
	})
	if err != nil {
		return nil, err
	}
	return s, errors.Join(errs...)
}

func (g *Graph) snapshotComponent(c ecs.ComponentRef) (ComponentSnapshot, error) {
	st, ok := g.world.Storages().Lookup(c.Type)
	if !ok {
		return ComponentSnapshot{}, ecs.ErrUnregisteredType
	}
	raw, err := st.Encode(c.Handle)
	if err != nil {
		return ComponentSnapshot{}, fmt.Errorf("encode %s: %w", st.Name(), err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return ComponentSnapshot{}, fmt.Errorf("encode %s: %w", st.Name(), err)
	}
	value := doc
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		value = *doc.Content[0]
	}
	return ComponentSnapshot{ID: c.Handle.ID.String(), Type: st.Name(), Value: value}, nil
}

// typeName prefers the registered name; unknown ids are written as ids.
func (g *Graph) typeName(t ident.TypeID) string {
	if info, ok := g.types.Find(t); ok {
		return info.Name
	}
	return t.String()
}

func (g *Graph) resolveTypeName(s string) (ident.TypeID, error) {
	if info, ok := g.types.FindByName(s); ok {
		return info.ID, nil
	}
	if t, err := ident.ParseTypeID(s); err == nil {
		return t, nil
	}
	return ident.TypeID{}, fmt.Errorf("%s: %w", s, ErrUnknownType)
}

// Restore recreates the nodes of s under their original unique ids and
// returns the logical roots it created. On failure every node created so
// far is queued for destruction and the error is returned.
func (g *Graph) Restore(s *Snapshot) ([]ecs.Handle, error) {
	if s == nil || s.Version != SnapshotVersion {
		return nil, fmt.Errorf("restore: %w", ErrBadSnapshot)
	}
	var created []ecs.Handle
	var roots []ecs.Handle
	fail := func(err error) ([]ecs.Handle, error) {
		// Queue the top of every restored subtree; the rest cascades.
		mine := make(map[ecs.Handle]bool, len(created))
		for _, h := range created {
			mine[h] = true
		}
		for _, h := range created {
			if n := g.nodes.Resolve(h); n != nil && !mine[n.parent] {
				_ = g.link.RequestDestroy(n.runtime)
			}
		}
		return nil, fmt.Errorf("restore: %w", err)
	}
	for _, ns := range s.Nodes {
		h, err := g.restoreNode(ns)
		if !h.IsZero() {
			created = append(created, h)
		}
		if err != nil {
			return fail(fmt.Errorf("node %s: %w", ns.ID, err))
		}
		if ns.Parent == "" {
			roots = append(roots, h)
			continue
		}
		pid, err := ident.Parse(ns.Parent)
		if err != nil {
			return fail(fmt.Errorf("node %s: parent: %w", ns.ID, ErrBadSnapshot))
		}
		parent, ok := g.nodes.HandleByID(pid)
		if !ok {
			return fail(fmt.Errorf("node %s: parent %s: %w", ns.ID, ns.Parent, ErrBadSnapshot))
		}
		if err := g.AttachLogical(parent, h); err != nil {
			return fail(fmt.Errorf("node %s: %w", ns.ID, err))
		}
	}
	g.log.Debug("snapshot restored")
	return roots, nil
}

func (g *Graph) restoreNode(ns NodeSnapshot) (ecs.Handle, error) {
	id, err := ident.Parse(ns.ID)
	if err != nil {
		return ecs.Handle{}, ErrBadSnapshot
	}
	typ, err := g.resolveTypeName(ns.Type)
	if err != nil {
		return ecs.Handle{}, err
	}
	h, err := g.CreateLogicalWithID(typ, ns.Name, id)
	if err != nil {
		return ecs.Handle{}, err
	}
	n := g.nodes.Resolve(h)
	if ns.Inactive {
		if err := g.link.SetActive(n.runtime, false); err != nil {
			return h, err
		}
	}
	for k, v := range ns.Fields {
		if err := g.SetField(h, k, v); err != nil {
			return h, err
		}
	}
	if ns.Transform != nil {
		if err := g.world.SetLocalTransform(n.runtime, *ns.Transform); err != nil {
			return h, err
		}
	}
	for _, cs := range ns.Components {
		if err := g.restoreComponent(n.runtime, cs); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (g *Graph) restoreComponent(rh ecs.Handle, cs ComponentSnapshot) error {
	typ := ident.TypeIDFromName(cs.Type)
	if _, ok := g.world.Storages().Lookup(typ); !ok {
		parsed, err := ident.ParseTypeID(cs.Type)
		if err != nil {
			return fmt.Errorf("component %s: %w", cs.Type, ecs.ErrUnregisteredType)
		}
		typ = parsed
	}
	var id ident.UniqueID
	if cs.ID != "" {
		parsed, err := ident.Parse(cs.ID)
		if err != nil {
			return fmt.Errorf("component %s: %w", cs.Type, ErrBadSnapshot)
		}
		id = parsed
	}
	value := cs.Value
	_, err := g.world.AddComponentByType(rh, typ, id, func(v any) error {
		if value.Kind == 0 {
			return nil
		}
		return value.Decode(v)
	})
	return err
}
