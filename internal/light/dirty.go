package light

import "time"

// StaleAfter forces a rewrite of an unchanged color so that dropped writes
// heal without acknowledgements.
const StaleAfter = 10 * time.Second

// dirtyState tracks whether the device may disagree with the desired color.
type dirtyState struct {
	dirty     bool
	lastWrite time.Time
}

func newDirtyState(now time.Time) dirtyState {
	return dirtyState{dirty: true, lastWrite: now}
}

func (d *dirtyState) mark() {
	d.dirty = true
}

func (d *dirtyState) clean(now time.Time) {
	d.dirty = false
	d.lastWrite = now
}

func (d *dirtyState) isDirty(now time.Time) bool {
	return d.dirty || now.Sub(d.lastWrite) > StaleAfter
}
