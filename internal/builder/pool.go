package builder

import "sync"

// runPool calls fn for every key with at most workers calls running at once and
// returns when all of them completed.
func runPool(workers int, keys []string, fn func(key string)) {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(keys) {
		workers = len(keys)
	}

	workCh := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range workCh {
				fn(key)
			}
		}()
	}

	for _, key := range keys {
		workCh <- key
	}
	close(workCh)
	wg.Wait()
}
