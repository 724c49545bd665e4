package vnode

// unbounded returns a pair of channels backed by an internal goroutine that
// queues values in a growable slice, so a send on in never blocks its
// caller on a full buffer the way a fixed-size channel would. The cnc
// stream is self-fed by concurrently running migration tasks and must
// never apply backpressure to them, per the manager's single-threaded
// cooperative contract.
func unbounded[T any]() (in chan<- T, out <-chan T) {
	inCh := make(chan T)
	outCh := make(chan T)

	go func() {
		defer close(outCh)
		var queue []T
		for {
			if len(queue) == 0 {
				v, ok := <-inCh
				if !ok {
					return
				}
				queue = append(queue, v)
				continue
			}
			select {
			case v, ok := <-inCh:
				if !ok {
					for _, q := range queue {
						outCh <- q
					}
					return
				}
				queue = append(queue, v)
			case outCh <- queue[0]:
				queue = queue[1:]
			}
		}
	}()

	return inCh, outCh
}
