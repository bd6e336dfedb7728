package timestamp

// Reconciler turns the device's free-running counter into the output timestamp column.
// The first counter value seen maps to the anchor; later values keep their distance from it.
type Reconciler struct {
	anchor  int64
	first   int64
	started bool
}

// NewReconciler returns a reconciler starting at anchorMillis (0 for a relative clock).
func NewReconciler(anchorMillis int64) *Reconciler {
	return &Reconciler{anchor: anchorMillis}
}

// Reconcile returns the output timestamp for raw.
func (r *Reconciler) Reconcile(raw uint32) int64 {
	// widen before subtracting, uint32 arithmetic would wrap
	value := int64(raw)
	if !r.started {
		r.first = value
		r.started = true
	}
	return r.anchor + (value - r.first)
}
