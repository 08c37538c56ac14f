/*
Copyright (c) 2025 Odd Kin <oddkin@oddkin.co>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package artifact

import (
	"context"
)

// EventType is a lifecycle transition reported by a host
type EventType string

const (
	// Activated is reported when an artifact becomes active, including replays at host start
	Activated EventType = "Activated"
	// Removed is reported when an artifact is uninstalled from the host
	Removed EventType = "Removed"
)

// Artifact identifies a deployable unit known to the host
type Artifact struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location"`
}

// Key returns the identity used for persisted state, "<name>-<version>"
func (a Artifact) Key() string {
	return a.Name + "-" + a.Version
}

// Event is a single lifecycle notification for an artifact
type Event struct {
	Type     EventType `json:"type"`
	Artifact Artifact  `json:"artifact"`
}

// EventHandler receives lifecycle notifications from a host.
// HandleEvent must not block on the work the event triggers.
type EventHandler interface {
	HandleEvent(ctx context.Context, event Event)
}

// Enumerator lists the descriptor locations contained in an artifact
type Enumerator interface {
	// Locations returns the descriptor locations of the artifact, in entry order
	Locations(ctx context.Context, a Artifact) ([]string, error)
}

// Fetcher retrieves remote content by URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
