package dataselection

import (
	"fmt"

	"github.com/banshee-data/cellflow/internal/applet"
	"github.com/banshee-data/cellflow/internal/graph"
)

// TopLevel is the data selection applet's lane list. Besides one
// OpDataSelection per lane it keeps the workflow-wide image name list in
// step with the lanes.
type TopLevel struct {
	*applet.Lanes[*OpDataSelection]
	g     *graph.Graph
	names *OpImageNameList
}

// NewTopLevel creates an empty data selection top level for the roles.
func NewTopLevel(g *graph.Graph, roles []string) *TopLevel {
	build := func(g *graph.Graph, lane int) (*OpDataSelection, error) {
		return NewOpDataSelection(g, fmt.Sprintf("OpDataSelection[%d]", lane), roles), nil
	}
	return &TopLevel{Lanes: applet.NewLanes[*OpDataSelection](g, build), g: g, names: NewOpImageNameList(g)}
}

// AddLane implements applet.TopLevel.
func (tl *TopLevel) AddLane(i int) error {
	if err := tl.Lanes.AddLane(i); err != nil {
		return err
	}
	op, err := tl.GetLane(i)
	if err != nil {
		return err
	}
	slot, err := tl.g.InsertSlot(tl.names.ImageNames, i)
	if err != nil {
		_ = tl.Lanes.RemoveLane(i)
		return err
	}
	if err := tl.g.Connect(op.ImageName, slot); err != nil {
		_ = tl.RemoveLane(i)
		return err
	}
	return nil
}

// RemoveLane implements applet.TopLevel.
func (tl *TopLevel) RemoveLane(i int) error {
	if i < tl.names.ImageNames.Len() {
		if err := tl.g.RemoveSlot(tl.names.ImageNames, i); err != nil {
			return err
		}
	}
	return tl.Lanes.RemoveLane(i)
}

// ImageNameList is the slot carrying every lane's name, in lane order.
func (tl *TopLevel) ImageNameList() *graph.Slot { return tl.names.ImageNameList }
