package graph

// NotifyDirty reports that region r of s changed. On an input the notice
// reaches inputs mirroring s and then the owner's PropagateDirty; on an
// output it is the same as SetDirty.
func (s *Slot) NotifyDirty(r Region) {
	if s.dir == DirOutput {
		s.SetDirty(r)
		return
	}
	if s.multi {
		for _, e := range s.Elements() {
			e.NotifyDirty(r)
		}
		return
	}
	tracef("dirty %s %s", s.FullName(), r)
	for _, d := range s.Downstream() {
		d.NotifyDirty(r)
	}
	s.owner.self.PropagateDirty(s, r)
}

// SetDirty marks region r of an output stale for every connected input.
// Operators call it from PropagateDirty.
func (s *Slot) SetDirty(r Region) {
	for _, d := range s.Downstream() {
		d.NotifyDirty(r)
	}
	for _, e := range s.Elements() {
		e.SetDirty(r)
	}
}
