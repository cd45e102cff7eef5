package game

const (
	// warmupFrames is how many initial frames register baselines for newly
	// seen identities instead of judging movement.
	warmupFrames = 5
	// moveThreshold is the per-axis center displacement, in pixels, beyond
	// which an identity is eliminated under red light.
	moveThreshold = 5
)

type trackState struct {
	cx, cy int
	area   int
	alive  bool
}

// Verdict is the outcome of one engine evaluation.
type Verdict struct {
	Alive          bool
	WinnerDeclared bool
	// WinnerLabel is the largest-area surviving identity when a win was
	// declared; it doubles as the tie-break rank.
	WinnerLabel string
	WinnerArea  int
}

// EliminationEngine evaluates one player's frames against the red-light rule.
// One engine per player; the detector it consumes is stateful across frames.
type EliminationEngine struct {
	detector   Detector
	frames     int
	tracks     map[string]*trackState
	eliminated bool
}

// NewEliminationEngine builds an engine around the given detector.
func NewEliminationEngine(detector Detector) *EliminationEngine {
	return &EliminationEngine{
		detector: detector,
		tracks:   make(map[string]*trackState),
	}
}

// Evaluate processes one frame. Under red light, any identity whose center
// moved beyond the threshold since its last recorded position is permanently
// eliminated; green light never eliminates. The player is alive only while
// every known identity is, and elimination never reverts. A win declaration
// short-circuits with the largest-area surviving identity as the winner.
func (e *EliminationEngine) Evaluate(redLight bool, frame []byte, win bool) Verdict {
	e.frames++

	for _, track := range e.detector.Observe(frame) {
		cx, cy := track.Box.Center()
		area := track.Box.Area()

		if state, known := e.tracks[track.Label]; known {
			if state.alive && redLight && (abs(cx-state.cx) > moveThreshold || abs(cy-state.cy) > moveThreshold) {
				state.alive = false
			}
			state.cx, state.cy = cx, cy
			state.area = area
		} else if e.frames <= warmupFrames {
			// Identities appearing after warm-up are ignored; the
			// tracker re-labels bodies it lost, and admitting the new
			// label would resurrect an eliminated player.
			e.tracks[track.Label] = &trackState{cx: cx, cy: cy, area: area, alive: true}
		}
	}

	if !e.eliminated {
		e.eliminated = e.lost()
	}
	alive := !e.eliminated

	if win && alive {
		label, area := e.largestSurviving()
		return Verdict{Alive: true, WinnerDeclared: true, WinnerLabel: label, WinnerArea: area}
	}
	return Verdict{Alive: alive}
}

// lost reports whether the player has no surviving identity left. With known
// identities the check is an AND across them; with none at all the player is
// only out once warm-up has passed, so slow starters are never eliminated.
func (e *EliminationEngine) lost() bool {
	if len(e.tracks) == 0 {
		return e.frames > warmupFrames
	}
	for _, state := range e.tracks {
		if state.alive {
			return false
		}
	}
	return true
}

func (e *EliminationEngine) largestSurviving() (string, int) {
	var label string
	maxArea := 0
	for l, state := range e.tracks {
		if state.alive && state.area > maxArea {
			maxArea = state.area
			label = l
		}
	}
	return label, maxArea
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
