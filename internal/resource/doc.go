// Package resource bounds the memory, worker and IO budget of a database handle.
//
//   - Memory: caches reserve bytes before they keep an entry (TryAcquireMemory)
//     and give them back on eviction.
//   - Workers: index rebuilds run at most MaxBackgroundWorkers tokenizer
//     goroutines.
//   - IO: checkpoints, copies and backups go through LimitWriter/LimitReader,
//     a token bucket from golang.org/x/time/rate.
//
// A nil *Controller imposes no limits, so callers never need to branch on it.
package resource
