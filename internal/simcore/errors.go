package simcore

import "errors"

// ErrMidTickEligibilityChange is the invariant violation raised when an
// entity's eligibility at the stability check disagrees with its
// eligibility at the gating phase. Effects buffered during the tick are
// discarded, never committed.
var ErrMidTickEligibilityChange = errors.New("simcore: entity eligibility changed mid-tick")
