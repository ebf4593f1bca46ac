package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/cellflow/internal/graph"
)

// Info is the serialisable topology of a workflow.
type Info struct {
	Workflow string     `yaml:"workflow"`
	Applets  []string   `yaml:"applets"`
	Lanes    []LaneInfo `yaml:"lanes"`
}

// LaneInfo describes the operators of one lane in topological order.
type LaneInfo struct {
	Index     int                  `yaml:"index"`
	Name      string               `yaml:"name"`
	Operators []graph.OperatorInfo `yaml:"operators"`
}

// Info summarises the applets and the wiring of every lane with the
// metadata currently propagated. No value is computed.
func (w *ConservationTrackingWorkflow) Info() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info := Info{Workflow: Name}
	for _, a := range w.applets {
		info.Applets = append(info.Applets, a.Name)
	}
	for i, l := range w.lanes {
		l.mu.RLock()
		li := LaneInfo{Index: i, Name: l.name}
		for _, op := range l.Operators() {
			li.Operators = append(li.Operators, graph.Describe(op))
		}
		l.mu.RUnlock()
		info.Lanes = append(info.Lanes, li)
	}
	return info
}

// Describe renders Info as YAML.
func (w *ConservationTrackingWorkflow) Describe() ([]byte, error) {
	out, err := yaml.Marshal(w.Info())
	if err != nil {
		return nil, fmt.Errorf("workflow: describe: %w", err)
	}
	return out, nil
}
