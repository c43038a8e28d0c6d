package main

import (
	"fmt"
	"math/rand"
)

// AnonymizationMap is a per-turn bijection between model identities and
// opaque "Response X" labels used during peer review. It is regenerated
// for every turn so reviewers cannot learn label-to-identity correlations
// across turns, and it is discarded once rankings are decoded: the map is
// never persisted, never put on the event stream, and never shown to a
// client.
type AnonymizationMap struct {
	labelToModel map[string]string
	modelToLabel map[string]string
	labels       []string
}

// NewAnonymizationMap assigns sequential letter labels to the given models
// in uniformly random order.
func NewAnonymizationMap(models []string) *AnonymizationMap {
	shuffled := append([]string(nil), models...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	m := &AnonymizationMap{
		labelToModel: make(map[string]string, len(shuffled)),
		modelToLabel: make(map[string]string, len(shuffled)),
		labels:       make([]string, 0, len(shuffled)),
	}
	for i, model := range shuffled {
		label := fmt.Sprintf("Response %c", rune('A'+i))
		m.labelToModel[label] = model
		m.modelToLabel[model] = label
		m.labels = append(m.labels, label)
	}
	return m
}

// Labels returns all labels in display (letter) order.
func (m *AnonymizationMap) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Label returns the label assigned to a model.
func (m *AnonymizationMap) Label(model string) (string, bool) {
	label, ok := m.modelToLabel[model]
	return label, ok
}

// Model resolves a label back to its model identity.
func (m *AnonymizationMap) Model(label string) (string, bool) {
	model, ok := m.labelToModel[label]
	return model, ok
}

// Decode rewrites an ordered list of labels into model identity space,
// dropping labels that are not part of the bijection and any duplicate a
// reviewer may have produced.
func (m *AnonymizationMap) Decode(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	models := make([]string, 0, len(labels))
	for _, label := range labels {
		model, ok := m.labelToModel[label]
		if !ok || seen[model] {
			continue
		}
		seen[model] = true
		models = append(models, model)
	}
	return models
}

// Size returns the number of participants in the bijection.
func (m *AnonymizationMap) Size() int {
	return len(m.labels)
}
