package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/typereg"
	"github.com/nodeforge/runtime/internal/graph"
)

const typesYAML = `
- name: game.Hero
  bases: [game.Pawn]
- name: game.Pawn
  bases: [core.Node]
- name: game.Light
  bases: [core.Node]
  note: point light
`

const sceneYAML = `
name: test
nodes:
  - name: level
    type: game.Pawn
    position: {x: 10, y: 0, z: 0}
    children:
      - name: hero
        type: game.Hero
        id: 0b7d3b8e-3a44-4f55-9d1e-5c0f3f1f6a10
        position: {x: 1, y: 2, z: 3}
        fields: {team: blue}
        components:
          - type: test.Stats
            value: {hp: 30, speed: 2.5}
      - name: lamp
        type: game.Light
        inactive: true
`

type stats struct {
	HP    int     `yaml:"hp"`
	Speed float64 `yaml:"speed"`
}

func (stats) TypeName() string { return "test.Stats" }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func newRegistry(t *testing.T) *typereg.Registry {
	t.Helper()
	reg := typereg.New()
	require.NoError(t, typereg.RegisterBuiltins(reg))
	return reg
}

func TestTypeManifestOutOfOrderBases(t *testing.T) {
	m, err := LoadTypeManifest(writeFile(t, "types.yaml", typesYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Count())

	reg := newRegistry(t)
	ids, err := m.Register(reg)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	node, _ := reg.FindByName(typereg.NodeType)
	pawn, _ := reg.FindByName("game.Pawn")
	assert.True(t, reg.IsA(ids["game.Hero"], pawn.ID))
	assert.True(t, reg.IsA(ids["game.Hero"], node.ID))
	assert.False(t, reg.IsA(ids["game.Light"], pawn.ID))
}

func TestTypeManifestUnknownBase(t *testing.T) {
	m, err := ParseTypeManifest([]byte("- {name: a.B, bases: [a.Missing]}"))
	require.NoError(t, err)
	_, err = m.Register(newRegistry(t))
	assert.ErrorIs(t, err, ErrTypeCycle)
}

func TestTypeManifestErrors(t *testing.T) {
	_, err := ParseTypeManifest([]byte("- {bases: [core.Node]}"))
	assert.ErrorIs(t, err, typereg.ErrEmptyName)

	_, err = LoadTypeManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	m, err := ParseTypeManifest([]byte("- {name: core.Node}"))
	require.NoError(t, err)
	_, err = m.Register(newRegistry(t))
	assert.ErrorIs(t, err, typereg.ErrAlreadyRegistered)
}

func spawnFixture(t *testing.T) (*graph.Graph, *ecs.World) {
	t.Helper()
	reg := newRegistry(t)
	m, err := ParseTypeManifest([]byte(typesYAML))
	require.NoError(t, err)
	_, err = m.Register(reg)
	require.NoError(t, err)

	w := ecs.NewWorld(ecs.Options{})
	_, err = ecs.Register[stats](w.Storages())
	require.NoError(t, err)
	g, err := graph.New(w, reg, nil)
	require.NoError(t, err)
	return g, w
}

func TestSceneSpawn(t *testing.T) {
	scene, err := LoadScene(writeFile(t, "scene.yaml", sceneYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, scene.Count())

	g, w := spawnFixture(t)
	roots, err := scene.Spawn(g)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	level := g.Resolve(roots[0])
	require.NotNil(t, level)
	assert.Len(t, level.Children(), 2)

	heroes := g.FindByName("hero")
	require.Len(t, heroes, 1)
	hero := heroes[0]
	assert.Equal(t, "0b7d3b8e-3a44-4f55-9d1e-5c0f3f1f6a10", hero.ID.String())
	assert.Equal(t, "blue", g.Resolve(hero).Fields["team"])

	rh, _ := g.Runtime(hero)
	st := ecs.Component[stats](w, rh)
	require.NotNil(t, st)
	assert.Equal(t, stats{HP: 30, Speed: 2.5}, *st)

	tr, ok, err := w.WorldTransform(rh)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ecs.Vec3{X: 11, Y: 2, Z: 3}, tr.Position)

	assert.True(t, g.Active(hero))
	lamps := g.FindByName("lamp")
	require.Len(t, lamps, 1)
	assert.False(t, g.Active(lamps[0]))
}

func TestSceneSpawnRollsBack(t *testing.T) {
	scene, err := ParseScene([]byte(`
name: broken
nodes:
  - name: ok
    type: game.Pawn
    children:
      - name: bad
        type: game.Pawn
        components:
          - type: test.Unregistered
`))
	require.NoError(t, err)

	g, w := spawnFixture(t)
	_, err = scene.Spawn(g)
	assert.ErrorIs(t, err, ecs.ErrUnregisteredType)

	_, err = w.Flush()
	require.NoError(t, err)
	assert.Zero(t, g.Len())
	assert.Zero(t, w.Nodes().Len())
}

func TestSceneUnknownType(t *testing.T) {
	scene, err := ParseScene([]byte("nodes: [{name: x, type: game.Nope}]"))
	require.NoError(t, err)
	g, _ := spawnFixture(t)
	_, err = scene.Spawn(g)
	assert.ErrorIs(t, err, graph.ErrUnknownType)
}
