package entities

import (
	"fmt"
	"sort"
	"strings"

	"turnforge.ai/internal/engine"
)

// ViewKey is the view-data module name the records are published under.
const ViewKey = "entitymodule"

// World is the viewer canvas size, sent once as global data.
type World struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Module tracks entities, collects commits per frame instant and publishes
// one batch of CREATE/UPDATE/COMMIT records per turn. It owns its id
// allocator.
type Module struct {
	world      World
	worldFixed bool

	nextID      int
	entities    []*Entity
	newEntities []*Entity

	instants map[string]*worldState
	current  map[int]entityState
}

func New() *Module {
	return &Module{
		world:    World{Width: 1920, Height: 1080},
		instants: map[string]*worldState{},
		current:  map[int]entityState{},
	}
}

// CreateWorld sets the canvas size. It must come before any entity.
func (m *Module) CreateWorld(width, height int) error {
	if m.worldFixed {
		return fmt.Errorf("%w: world created after first use", engine.ErrIllegalState)
	}
	m.worldFixed = true
	m.world = World{Width: width, Height: height}
	return nil
}

func (m *Module) World() World { return m.world }

func (m *Module) newEntity(k Kind) *Entity {
	m.worldFixed = true
	m.nextID++
	e := &Entity{id: m.nextID, kind: k, pending: entityState{}}
	m.entities = append(m.entities, e)
	m.newEntities = append(m.newEntities, e)
	return e
}

func (m *Module) NewCircle() *Entity    { return m.newEntity(KindCircle) }
func (m *Module) NewRectangle() *Entity { return m.newEntity(KindRectangle) }
func (m *Module) NewLine() *Entity      { return m.newEntity(KindLine) }
func (m *Module) NewSprite(image string) *Entity {
	return m.newEntity(KindSprite).SetImage(image)
}
func (m *Module) NewText(s string) *Entity { return m.newEntity(KindText).SetText(s) }

func (m *Module) NewGroup(children ...*Entity) *Entity {
	return m.newEntity(KindGroup).Add(children...)
}

// CommitEntityState flushes the pending properties of the given entities into
// instant t.
func (m *Module) CommitEntityState(t float64, ents ...*Entity) error {
	return m.commit(t, false, ents)
}

// CommitWorldState flushes every entity into instant t and marks t as a
// synchronization point that is always published.
func (m *Module) CommitWorldState(t float64) error {
	return m.commit(t, true, m.entities)
}

func (m *Module) commit(t float64, force bool, ents []*Entity) error {
	if t < 0 || t > 1 {
		return fmt.Errorf("frame instant %v outside [0, 1]", t)
	}
	if len(ents) == 0 && !force {
		return fmt.Errorf("commit at %v without entities", t)
	}
	w := m.instant(t)
	if force {
		w.force = true
	}
	for _, e := range ents {
		w.flush(e)
	}
	return nil
}

func (m *Module) instant(t float64) *worldState {
	label := formatInstant(t)
	w, ok := m.instants[label]
	if !ok {
		w = newWorldState(t)
		m.instants[label] = w
	}
	return w
}

// Records drains the turn's commits and returns the records to publish.
func (m *Module) Records() []string {
	end := m.instant(1)
	end.force = true
	end.flushMissing(m.entities)

	var out []string
	for _, e := range m.newEntities {
		out = append(out, createRecord(e))
	}
	m.newEntities = nil

	ordered := make([]*worldState, 0, len(m.instants))
	for _, w := range m.instants {
		ordered = append(ordered, w)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].t < ordered[j].t })

	for _, w := range ordered {
		for _, id := range w.ids() {
			next := w.states[id]
			base, ok := m.current[id]
			if !ok {
				base = entityState{}
				m.current[id] = base
			}
			if d := next.diff(base); len(d) > 0 {
				out = append(out, updateRecord(id, w.label, d))
			}
			base.merge(next)
		}
		if w.force {
			out = append(out, commitRecord(w.label))
		}
	}
	m.instants = map[string]*worldState{}
	return out
}

func (m *Module) publish(e *engine.Engine) {
	e.SetViewData(ViewKey, strings.Join(m.Records(), "\n"))
}

func (m *Module) OnGameInit(e *engine.Engine) error {
	if err := e.SetViewGlobalData(ViewKey, m.world); err != nil {
		return err
	}
	m.worldFixed = true
	m.publish(e)
	return nil
}

func (m *Module) OnAfterGameTurn(e *engine.Engine) error {
	m.publish(e)
	return nil
}

// OnAfterOnEnd publishes nothing: the last turn's records are already in the
// final frame, and a second batch would replace them.
func (m *Module) OnAfterOnEnd(e *engine.Engine) error { return nil }
