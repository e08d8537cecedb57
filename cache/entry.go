package cache

// AreaState represents the lifecycle state of a cache area
type AreaState string

const (
	// StateCurrent represents the area of the active version
	StateCurrent AreaState = "current"
	// StateStale represents an area left by another version, subject to deletion
	StateStale AreaState = "stale"
)

// Classify returns the state of the area called name when current is the active area name
func Classify(name, current string) AreaState {
	if name == current {
		return StateCurrent
	}
	return StateStale
}

// Entry represents a request key and the response stored for it
type Entry struct {
	// Key represents the request identity, see RequestKey
	Key string `json:"key"`
	// Response represents the stored response snapshot
	Response *Response `json:"-"`
}

// AreaInfo describes an area for status reporting
type AreaInfo struct {
	Name    string    `json:"name"`
	State   AreaState `json:"state"`
	Entries int       `json:"entries"`
}
