// Package syncutil holds the mutexes guarding link security state, that is
// the security contexts and the frame counters. Those locks are held across
// the CCM* transform and counter persistence, so a lock ordering mistake
// stalls the send or receive path.
//
// A normal build uses sync. Building with -tags=deadlock swaps in
// github.com/sasha-s/go-deadlock, which reports lock cycles and locks held
// too long:
//
//	go test -tags=deadlock ./...
package syncutil
