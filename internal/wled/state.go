package wled

// BuildDesiredState returns the commands that clear a strip of maxLEDs and,
// when target is non-nil, mark that LED. Default colours are used.
//
// The clear is always first. Range checking is the caller's job; Client.Set
// validates before building.
func BuildDesiredState(maxLEDs int, target *int) DesiredState {
	return buildDesiredState(maxLEDs, target, DefaultOffColor, DefaultMarkerColor)
}

func buildDesiredState(maxLEDs int, target *int, off, marker Color) DesiredState {
	state := DesiredState{
		{
			Step:    StepClear,
			Payload: StatePayload{Seg: Segment{I: []any{0, maxLEDs, string(off)}}},
		},
	}
	if target != nil {
		state = append(state, StateCommand{
			Step:    StepMark,
			Payload: StatePayload{Seg: Segment{I: []any{*target, string(marker)}}},
		})
	}
	return state
}
