// Package worker provides a serialized task loop for single-writer state.
//
// A Worker owns one goroutine that executes posted tasks in FIFO order. No
// two tasks for the same Worker ever run concurrently, so state touched only
// from posted tasks needs no locking. Transport callbacks arriving on I/O
// goroutines hand their work off to the Worker before touching shared state.
//
// Delayed tasks are scheduled with PostDelayed and run on the same loop
// goroutine. Halting the worker cancels pending delayed tasks, discards the
// queue, and waits for the loop to exit.
package worker
