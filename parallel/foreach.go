// Package parallel contains bounded parallel loops.
package parallel

import "sync"

// ForEach calls body(i) for every i in [0, length) on at most limit
// goroutines at once and returns when all calls have returned. A limit
// below 1 runs the calls one at a time.
func ForEach(length, limit int, body func(i int)) {
	if length <= 0 {
		return
	}
	limit = max(1, min(limit, length))

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)
	for i := range length {
		sem <- struct{}{}
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			body(i)
		}()
	}
	wg.Wait()
}

// ForEachErr is ForEach for bodies that can fail. Every iteration runs; the
// error of the lowest failing index is returned.
func ForEachErr(length, limit int, body func(i int) error) error {
	if length <= 0 {
		return nil
	}
	errs := make([]error, length)
	ForEach(length, limit, func(i int) {
		errs[i] = body(i)
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
