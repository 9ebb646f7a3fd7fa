package model

import "fmt"

// Fingerprint is a synthetic dedupe key for a discovered element. Raw
// handle identity is useless here because the same visual element is
// matched by several selectors, so the key is tag + id + class + rounded
// bounding box.
func (e ElementDescriptor) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%.0f,%.0f,%.0fx%.0f",
		e.Tag, e.ID, e.Class, e.Box.X, e.Box.Y, e.Box.W, e.Box.H)
}
