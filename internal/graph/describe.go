package graph

// SlotInfo is a serialisable summary of a slot.
type SlotInfo struct {
	Name     string     `yaml:"name"`
	Type     string     `yaml:"type"`
	Meta     string     `yaml:"meta,omitempty"`
	Source   string     `yaml:"source,omitempty"`
	Constant bool       `yaml:"constant,omitempty"`
	Elements []SlotInfo `yaml:"elements,omitempty"`
}

// OperatorInfo is a serialisable summary of an operator and its slots.
type OperatorInfo struct {
	Name     string         `yaml:"name"`
	Ready    bool           `yaml:"ready"`
	Error    string         `yaml:"error,omitempty"`
	Inputs   []SlotInfo     `yaml:"inputs,omitempty"`
	Outputs  []SlotInfo     `yaml:"outputs,omitempty"`
	Children []OperatorInfo `yaml:"children,omitempty"`
}

// Describe summarises op, its slots and its adopted operators.
func Describe(op Operator) OperatorInfo {
	b := op.Base()
	info := OperatorInfo{Name: b.name, Ready: b.Ready()}
	if err := b.SetupErr(); err != nil {
		info.Error = err.Error()
	}
	for _, s := range b.inputs {
		info.Inputs = append(info.Inputs, describeSlot(s))
	}
	for _, s := range b.outputs {
		info.Outputs = append(info.Outputs, describeSlot(s))
	}
	for _, c := range b.Children() {
		info.Children = append(info.Children, Describe(c))
	}
	return info
}

func describeSlot(s *Slot) SlotInfo {
	info := SlotInfo{Name: s.name, Type: s.typ.String()}
	if m := s.Meta(); m.Ready() {
		info.Meta = m.String()
	}
	if up := s.Upstream(); up != nil {
		info.Source = up.FullName()
	}
	_, info.Constant = s.Constant()
	for _, e := range s.Elements() {
		info.Elements = append(info.Elements, describeSlot(e))
	}
	return info
}
