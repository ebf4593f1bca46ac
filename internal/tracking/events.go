package tracking

import (
	"slices"

	"github.com/banshee-data/cellflow/internal/objectextraction"
)

// EventsSchema names the table of FrameEvents rows.
const EventsSchema = "events"

// EventKind classifies a link between two consecutive frames.
type EventKind string

const (
	EventMove          EventKind = "move"
	EventDivision      EventKind = "division"
	EventAppearance    EventKind = "appearance"
	EventDisappearance EventKind = "disappearance"
)

// Event is one link into a frame. From is the object label in the
// previous frame (0 for appearances), To the object labels in this frame
// (two for a division, none for a disappearance). Track is the track of
// From, or the new track of an appearance; Children are the new tracks
// of a division's daughters, in To order.
type Event struct {
	Kind     EventKind
	From     int
	To       []int
	Track    int
	Children []int
}

// FrameEvents is the row type of the "events" table. Tracks maps every
// tracked object label of the frame to its track id; dropped detections
// are absent.
type FrameEvents struct {
	Frame  int
	Events []Event
	Tracks map[int]int
}

// Count returns the number of events of kind k.
func (f FrameEvents) Count(k EventKind) int {
	n := 0
	for _, e := range f.Events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Trajectory is the path of one track through the movie.
type Trajectory struct {
	Track   int
	Parent  int
	Frames  []int
	Centers [][3]float64
}

// Trajectories joins events with object centres into per-track paths,
// ordered by track id.
func Trajectories(events []FrameEvents, features []objectextraction.FrameFeatures) []Trajectory {
	byTrack := map[int]*Trajectory{}
	for i, fe := range events {
		var centers [][]float64
		if i < len(features) {
			centers, _ = features[i].Get(objectextraction.StandardGroup, objectextraction.FeatureRegionCenter)
		}
		for _, e := range fe.Events {
			if e.Kind == EventDivision {
				for _, c := range e.Children {
					tr := trajectory(byTrack, c)
					tr.Parent = e.Track
				}
			}
		}
		labels := make([]int, 0, len(fe.Tracks))
		for l := range fe.Tracks {
			labels = append(labels, l)
		}
		slices.Sort(labels)
		for _, l := range labels {
			tr := trajectory(byTrack, fe.Tracks[l])
			tr.Frames = append(tr.Frames, fe.Frame)
			var c [3]float64
			if l-1 < len(centers) {
				copy(c[:], centers[l-1])
			}
			tr.Centers = append(tr.Centers, c)
		}
	}
	out := make([]Trajectory, 0, len(byTrack))
	for _, tr := range byTrack {
		out = append(out, *tr)
	}
	slices.SortFunc(out, func(a, b Trajectory) int { return a.Track - b.Track })
	return out
}

func trajectory(m map[int]*Trajectory, id int) *Trajectory {
	tr, ok := m[id]
	if !ok {
		tr = &Trajectory{Track: id}
		m[id] = tr
	}
	return tr
}
