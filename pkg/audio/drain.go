package audio

// Drain reads from ch until it is closed, discarding every value. Consumers
// that abandon a stream early cancel its context and then Drain it, so the
// producer's cleanup has finished once Drain returns.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
