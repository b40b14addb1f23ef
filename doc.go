// Package taskbatch groups individually submitted task invocations into
// size- or time-bounded batches, and forwards each batch to a single
// downstream sink. It exists to amortize the per-call cost of a remote
// task executor by grouping calls, while bounding the added latency with a
// flush deadline.
//
// See also [github.com/joeycumines/go-microbatch], for a channel-based take
// on the same problem, with support for concurrent batch processors.
package taskbatch
