// Package eventloop multiplexes a small set of readiness sources onto one
// goroutine.
//
// Each registered Source is read by its own goroutine, which blocks in the
// read and then hands the result to the loop. The loop goroutine is the only
// place callbacks run, so state touched from callbacks needs no locking.
// A source holds at most one undelivered event: its reader does not read
// again until the loop has dispatched the previous one. When several sources
// are ready at the same time, one pass of the loop dispatches each of them
// exactly once.
//
// A read error or end of stream is delivered as an Event with Closed set.
// The source is then unregistered automatically; the callback decides
// whether that ends the whole loop (call Stop) or only that peer.
//
// Work from other goroutines (process exit watchers, timers, API queries)
// is funnelled onto the loop with Post and Every.
//
//	loop := eventloop.New()
//	loop.Add(eventloop.Stream(pipe), func(ev eventloop.Event) { ... })
//	loop.Add(eventloop.Packet(conn), func(ev eventloop.Event) { ... })
//	err := loop.Run(ctx)
package eventloop
