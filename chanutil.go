package taskrt

// alwaysClosed is a ready-made closed channel, returned by ChildSet.Wait
// for a task with no running children so callers can always select on a
// non-nil channel instead of special-casing the empty case.
var alwaysClosed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
