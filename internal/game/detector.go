package game

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X, Y, W, H int
}

// Center returns the box center point.
func (b Box) Center() (int, int) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	return b.W * b.H
}

// Track is one tracked identity observed in a frame: a stable label assigned
// by the tracker to the same physical body across frames, plus its box.
type Track struct {
	Label string
	Box   Box
}

// Detector yields tracked identities for a compressed camera frame.
// Implementations wrap an external detection/tracking model; returning no
// tracks is not an error and simply means nothing was observed this frame.
type Detector interface {
	Observe(frame []byte) []Track
}

// DetectorFactory builds one Detector per player. Trackers carry state across
// frames, so detectors are never shared between players.
type DetectorFactory func() Detector

// NopDetector observes nothing. It stands in where no external
// detection/tracking model is attached; evaluation degrades to skipped
// ticks rather than eliminations.
type NopDetector struct{}

// Observe reports no tracked identities.
func (NopDetector) Observe([]byte) []Track { return nil }
