package ledger

// SwapDecide replaces the state machine used by Processor and returns a
// function restoring the original.
func SwapDecide(f func(ProcessingView) Decision) (restore func()) {
	prev := decideFunc
	decideFunc = f
	return func() { decideFunc = prev }
}
