package eventbus

import (
	"errors"
	"fmt"
)

// ErrBusClosed indicates an operation on a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// RecoveryWarning describes unsent entries found during Initialize. It is
// logged, not returned: the entries are replayed and are not treated as
// corruption.
type RecoveryWarning struct {
	Count int
	Keys  []string
}

// Error implements the error interface.
func (w *RecoveryWarning) Error() string {
	return fmt.Sprintf("recovered %d unsent events", w.Count)
}
