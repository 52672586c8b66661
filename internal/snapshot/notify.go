package snapshot

import "sync"

type subCh = chan *Snapshot

var (
	mu   sync.Mutex
	subs = make(map[subCh]struct{})
)

// Subscribe registers a listener for snapshot swaps. The channel holds at
// most one pending snapshot; a listener that falls behind only sees the
// latest one. Call the returned func to unsubscribe.
func Subscribe() (<-chan *Snapshot, func()) {
	ch := make(subCh, 1)
	mu.Lock()
	subs[ch] = struct{}{}
	mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			mu.Lock()
			delete(subs, ch)
			close(ch)
			mu.Unlock()
		})
	}
	return ch, unsub
}

func publishUpdate(s *Snapshot) {
	mu.Lock()
	defer mu.Unlock()
	for ch := range subs {
		select {
		case ch <- s:
		default:
			// Replace the stale pending snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
