package tap

import (
	"fmt"
)

// State is one of the 16 IEEE 1149.1 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR
)

var stateNames = map[State]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

type stateTransitions struct {
	onZero State
	onOne  State
}

var transitions = map[State]stateTransitions{
	StateTestLogicReset: {onZero: StateRunTestIdle, onOne: StateTestLogicReset},
	StateRunTestIdle:    {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectDRScan:   {onZero: StateCaptureDR, onOne: StateSelectIRScan},
	StateCaptureDR:      {onZero: StateShiftDR, onOne: StateExit1DR},
	StateShiftDR:        {onZero: StateShiftDR, onOne: StateExit1DR},
	StateExit1DR:        {onZero: StatePauseDR, onOne: StateUpdateDR},
	StatePauseDR:        {onZero: StatePauseDR, onOne: StateExit2DR},
	StateExit2DR:        {onZero: StateShiftDR, onOne: StateUpdateDR},
	StateUpdateDR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectIRScan:   {onZero: StateCaptureIR, onOne: StateTestLogicReset},
	StateCaptureIR:      {onZero: StateShiftIR, onOne: StateExit1IR},
	StateShiftIR:        {onZero: StateShiftIR, onOne: StateExit1IR},
	StateExit1IR:        {onZero: StatePauseIR, onOne: StateUpdateIR},
	StatePauseIR:        {onZero: StatePauseIR, onOne: StateExit2IR},
	StateExit2IR:        {onZero: StateShiftIR, onOne: StateUpdateIR},
	StateUpdateIR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
}

// NextState returns the state reached after one TCK cycle with the given TMS
// level. It panics on an undefined state value, which cannot happen through
// the exported API.
func NextState(current State, tms bool) State {
	row, ok := transitions[current]
	if !ok {
		panic(fmt.Sprintf("tap: unhandled state %d", current))
	}
	if tms {
		return row.onOne
	}
	return row.onZero
}

// Walk applies a TMS bit sequence to the transition table starting at from
// and returns the final state. It performs no I/O; callers use it to check
// that a fixed TMS path lands where they expect.
func Walk(from State, tms []bool) State {
	state := from
	for _, bit := range tms {
		state = NextState(state, bit)
	}
	return state
}

// StateMachine tracks the TAP controller state on the host side. It never
// touches hardware: the waveform layer clocks the same TMS bits onto the
// wire and this mirror keeps the otherwise implicit TAP context explicit.
type StateMachine struct {
	state State
}

// NewStateMachine returns a machine initialized to Test-Logic-Reset, the
// state a forced reset leaves the hardware in.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

// State reports the tracked TAP state.
func (m *StateMachine) State() State {
	return m.state
}

// Clock advances the mirror by one TCK cycle and returns the new state.
func (m *StateMachine) Clock(tms bool) State {
	m.state = NextState(m.state, tms)
	return m.state
}

// Reset returns the five TMS=1 bits that force any TAP into
// Test-Logic-Reset, advancing the mirror accordingly. Five cycles suffice
// from every state in the diagram.
func (m *StateMachine) Reset() []bool {
	tms := make([]bool, 5)
	for i := range tms {
		tms[i] = true
		m.Clock(true)
	}
	return tms
}

// GoTo computes the shortest TMS sequence from the current state to target
// and advances the mirror along it.
func (m *StateMachine) GoTo(target State) ([]bool, error) {
	path, err := shortestPath(m.state, target)
	if err != nil {
		return nil, err
	}
	for _, bit := range path {
		m.Clock(bit)
	}
	return path, nil
}

// shortestPath finds the minimal TMS sequence between two states with a BFS
// over the state diagram.
func shortestPath(from, to State) ([]bool, error) {
	if _, ok := transitions[from]; !ok {
		return nil, fmt.Errorf("tap: invalid start state %d", from)
	}
	if _, ok := transitions[to]; !ok {
		return nil, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return nil, nil
	}

	type node struct {
		state State
		tms   []bool
	}

	queue := []node{{state: from}}
	visited := map[State]struct{}{from: {}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, bit := range []bool{false, true} {
			next := NextState(current.state, bit)
			if _, seen := visited[next]; seen {
				continue
			}
			path := append(append([]bool{}, current.tms...), bit)
			if next == to {
				return path, nil
			}
			visited[next] = struct{}{}
			queue = append(queue, node{state: next, tms: path})
		}
	}

	return nil, fmt.Errorf("tap: no path from %s to %s", from, to)
}
