package loop

// Condition decides when a run has produced its answer. Two styles exist:
// natural completion (the service stops without further tool requests) and
// termination by a named final tool whose arguments carry the answer.
type Condition struct {
	finalTool string
}

// UntilDone terminates when the service reports natural completion.
func UntilDone() Condition {
	return Condition{}
}

// UntilTool terminates when the named tool appears among the requested tool
// calls; its argument payload becomes the run's answer.
func UntilTool(name string) Condition {
	return Condition{finalTool: name}
}

// FinalTool reports the named final tool, when one is set.
func (c Condition) FinalTool() (string, bool) {
	return c.finalTool, c.finalTool != ""
}
