// Package scheduler owns the daemon's timer loop.
//
// Only one cycle runs at a time. Timer fires, manual triggers, and manual
// pruning all contend for the same lock; contenders get ErrBusy rather than
// a place in a queue.
package scheduler
