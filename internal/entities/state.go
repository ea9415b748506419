package entities

import "sort"

// param is one property value with the curve used to reach it. Values are kept
// in their serialized form.
type param struct {
	value string
	curve Curve
}

// entityState maps property names to values.
type entityState map[string]param

// merge copies every property of next into s, last write wins.
func (s entityState) merge(next entityState) {
	for k, v := range next {
		s[k] = v
	}
}

// diff returns the properties of s whose value differs from base. The curve is
// not part of the comparison.
func (s entityState) diff(base entityState) entityState {
	out := entityState{}
	for k, v := range s {
		if old, ok := base[k]; ok && old.value == v.value {
			continue
		}
		out[k] = v
	}
	return out
}

func (s entityState) sortedKeys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// worldState is the set of entity states committed at one frame instant.
type worldState struct {
	t      float64
	label  string
	force  bool
	states map[int]entityState
}

func newWorldState(t float64) *worldState {
	return &worldState{t: t, label: formatInstant(t), states: map[int]entityState{}}
}

// flush moves the pending properties of e into this instant.
func (w *worldState) flush(e *Entity) {
	if cur, ok := w.states[e.id]; ok {
		cur.merge(e.pending)
	} else {
		w.states[e.id] = e.pending
	}
	e.pending = entityState{}
}

// flushMissing flushes every entity not yet present at this instant.
func (w *worldState) flushMissing(all []*Entity) {
	for _, e := range all {
		if _, ok := w.states[e.id]; !ok {
			w.states[e.id] = e.pending
			e.pending = entityState{}
		}
	}
}

func (w *worldState) ids() []int {
	ids := make([]int, 0, len(w.states))
	for id := range w.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
