package data

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/ident"
	"github.com/nodeforge/runtime/internal/graph"
)

var ErrSceneTooDeep = errors.New("scene nesting exceeds hierarchy depth")

// SceneNode describes one node and its subtree.
type SceneNode struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	ID         string            `yaml:"id"`
	Position   *ecs.Vec3         `yaml:"position"`
	Scale      *ecs.Vec3         `yaml:"scale"`
	Inactive   bool              `yaml:"inactive"`
	Fields     map[string]string `yaml:"fields"`
	Components []SceneComponent  `yaml:"components"`
	Children   []SceneNode       `yaml:"children"`
}

// SceneComponent is decoded into the storage registered under Type.
type SceneComponent struct {
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value"`
}

// Scene is an initial node layout loaded from scene.yaml.
type Scene struct {
	Name  string      `yaml:"name"`
	Nodes []SceneNode `yaml:"nodes"`
}

// LoadScene loads scene.yaml.
func LoadScene(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	return ParseScene(raw)
}

func ParseScene(raw []byte) (*Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	return &s, nil
}

// Count returns the number of nodes in the scene, children included.
func (s *Scene) Count() int {
	var count func([]SceneNode, int) int
	count = func(nodes []SceneNode, depth int) int {
		n := 0
		for i := range nodes {
			n++
			if depth < maxSceneDepth {
				n += count(nodes[i].Children, depth+1)
			}
		}
		return n
	}
	return count(s.Nodes, 0)
}

// maxSceneDepth bounds recursion over untrusted scene files independently
// of the hierarchy limit.
const maxSceneDepth = 1024

// Spawn creates the scene's nodes in g and returns the logical roots. If
// any node fails, the roots created so far are queued for destruction.
func (s *Scene) Spawn(g *graph.Graph) ([]ecs.Handle, error) {
	sp := spawner{g: g, maxDepth: min(g.World().Hierarchy().MaxDepth(), maxSceneDepth)}
	roots := make([]ecs.Handle, 0, len(s.Nodes))
	for i := range s.Nodes {
		h, err := sp.spawn(&s.Nodes[i], ecs.Handle{}, 0)
		if !h.IsZero() {
			roots = append(roots, h)
		}
		if err != nil {
			for _, r := range roots {
				_ = g.DestroyLogical(r)
			}
			return nil, fmt.Errorf("spawn scene %q: %w", s.Name, err)
		}
	}
	return roots, nil
}

type spawner struct {
	g        *graph.Graph
	maxDepth int
}

// spawn returns the created node even on error so the caller can clean it
// up; children already attached go with it.
func (sp *spawner) spawn(n *SceneNode, parent ecs.Handle, depth int) (ecs.Handle, error) {
	if depth > sp.maxDepth {
		return ecs.Handle{}, fmt.Errorf("%s: %w", n.Name, ErrSceneTooDeep)
	}
	info, ok := sp.g.Types().FindByName(n.Type)
	if !ok {
		return ecs.Handle{}, fmt.Errorf("%s: type %s: %w", n.Name, n.Type, graph.ErrUnknownType)
	}
	var (
		h   ecs.Handle
		err error
	)
	if n.ID != "" {
		id, perr := ident.Parse(n.ID)
		if perr != nil {
			return ecs.Handle{}, fmt.Errorf("%s: id: %w", n.Name, perr)
		}
		h, err = sp.g.CreateLogicalWithID(info.ID, n.Name, id)
	} else {
		h, err = sp.g.CreateLogical(info.ID, n.Name)
	}
	if err != nil {
		return ecs.Handle{}, err
	}
	if !parent.IsZero() {
		if err := sp.g.AttachLogical(parent, h); err != nil {
			return h, fmt.Errorf("%s: %w", n.Name, err)
		}
	}
	if err := sp.populate(h, n); err != nil {
		return h, fmt.Errorf("%s: %w", n.Name, err)
	}
	for i := range n.Children {
		if _, err := sp.spawn(&n.Children[i], h, depth+1); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (sp *spawner) populate(h ecs.Handle, n *SceneNode) error {
	w := sp.g.World()
	rh, _ := sp.g.Runtime(h)
	for k, v := range n.Fields {
		if err := sp.g.SetField(h, k, v); err != nil {
			return err
		}
	}
	if n.Inactive {
		if err := sp.g.SetActive(h, false); err != nil {
			return err
		}
	}
	if n.Position != nil || n.Scale != nil {
		t := ecs.IdentityTransform()
		if n.Position != nil {
			t.Position = *n.Position
		}
		if n.Scale != nil {
			t.Scale = *n.Scale
		}
		if err := w.SetLocalTransform(rh, t); err != nil {
			return err
		}
	}
	for _, c := range n.Components {
		value := c.Value
		_, err := w.AddComponentByType(rh, ident.TypeIDFromName(c.Type), ident.UniqueID{}, func(v any) error {
			if value.Kind == 0 {
				return nil
			}
			return value.Decode(v)
		})
		if err != nil {
			return fmt.Errorf("component %s: %w", c.Type, err)
		}
	}
	return nil
}
