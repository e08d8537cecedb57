// Package notify maps push events and notification clicks to the
// notification to display and the action to take.
package notify

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Notification action identifiers
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

const (
	// DefaultTitle is the title of every notification
	DefaultTitle = "Off Market"
	// DefaultBody is shown when a push event carries no usable payload
	DefaultBody = "A new off-market property is available"
	// RootURL is opened by the explore action
	RootURL = "/"
)

// Action is a button shown on a notification
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data is attached to a notification and handed back on click
type Data struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

// Notification describes a notification to display
type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Vibrate []int    `json:"vibrate"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

// ClickResult is the side effect of a notification click
type ClickResult struct {
	Close   bool   `json:"close"`
	OpenURL string `json:"openUrl,omitempty"`
}

// Push builds the notification for a push event payload.
// An empty, blank or non UTF-8 payload falls back to DefaultBody.
func Push(payload []byte) Notification {
	return push(payload, time.Now())
}

func push(payload []byte, now time.Time) Notification {
	body := strings.TrimSpace(string(payload))
	if body == "" || !utf8.ValidString(body) {
		body = DefaultBody
	}

	return Notification{
		Title:   DefaultTitle,
		Body:    body,
		Icon:    "/logo192.png",
		Badge:   "/logo192.png",
		Vibrate: []int{100, 50, 100},
		Data: Data{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    1,
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "Explore", Icon: "/logo192.png"},
			{Action: ActionClose, Title: "Close", Icon: "/logo192.png"},
		},
	}
}

// Click returns what a click on a notification does.
// The notification is always closed, explore also opens the site root.
func Click(action string) ClickResult {
	if action == ActionExplore {
		return ClickResult{Close: true, OpenURL: RootURL}
	}
	return ClickResult{Close: true}
}
