// ABOUTME: Streaming relay package between a codec engine and its caller
// ABOUTME: Documents the pull/push contract and the two scheduling models
// Package relay bridges a pull-based codec engine and a caller that produces
// and consumes bytes in arbitrary sized chunks.
//
// The engine reads with Fill (or Read) and writes with Forward. The caller
// either submits chunks into a FIFO queue (Submit) or supplies a Puller that
// is asked for bytes directly. Output chunks are handed to the caller's
// Pusher synchronously, in production order.
//
// Two scheduling models are supported:
//   - Synchronous: Process or ProcessSingle run the engine on the caller's goroutine.
//   - Background: Start runs the engine on a worker goroutine fed by Submit.
//     Finish joins the worker with a bounded timeout.
//
// Example:
//
//	r := relay.New(relay.Config{Push: relay.PushFunc(consume)})
//	if err := r.Bind(engine); err != nil {
//	    return err
//	}
//	r.Start()
//	r.Submit(chunk)
//	err := r.Finish()
package relay
