// Package lecture runs embedded lecture content and cleans up after it.
//
// A Manager mounts one View at a time. Mounting walks the states
//
//	Idle -> Loading -> Injected -> Executing -> Ready -> TornDown
//
// loading the content, injecting it into the view's container and running
// its code blocks in document order with an Executor. Blocks share a single
// global scope; a failing block is logged and the walk continues. When the
// last block has been processed the executor fires DOMContentLoaded and
// lecturecontentready once and produces a CompletionSignal.
//
// Every timer, interval, animation frame and listener content creates is
// recorded in the view's Tracker. Leaving the view runs the Teardown
// coordinator, which drains the tracker, cancels each handle, invokes the
// author's cleanup hook once and moves the view to TornDown. Teardown is
// idempotent and each of its steps is guarded independently.
//
// The Scope ties these together: the tracker, the state machine and the
// cleanup hook all live on the per-view scope rather than in global state,
// so nothing carries over from one lecture to the next.
package lecture
