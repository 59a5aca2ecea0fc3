package hal

// DefaultPollBudget is the number of extra status reads Poll performs before
// giving up. It counts iterations, not time.
const DefaultPollBudget = 0x1000000

// Poll reads the status until it is no longer Busy or budget reads after the
// first one have been spent. An exhausted budget yields Timeout.
//
// A non-busy status other than Ready (e.g. InvalidCommand) ends the poll and is
// returned as is.
func Poll(read func() (Status, error), budget uint32) (Status, error) {
	st, err := read()
	if err != nil {
		return st, err
	}
	for st == Busy && budget > 0 {
		if st, err = read(); err != nil {
			return st, err
		}
		budget--
	}
	if st == Busy {
		return Timeout, nil
	}
	return st, nil
}

// WaitReady polls h with DefaultPollBudget.
func WaitReady(h HAL) (Status, error) {
	return Poll(h.ReadStatus, DefaultPollBudget)
}
