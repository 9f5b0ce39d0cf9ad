package tensor

import "sync"

// minRowsPerWorker keeps tiny batches on the calling goroutine.
const minRowsPerWorker = 16

// forEachRow runs body over [0, rows) split into contiguous chunks, one per
// worker.
func forEachRow(rows, workers int, body func(start, end int)) {
	if rows <= 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if max := rows / minRowsPerWorker; workers > max {
		workers = max
	}
	if workers <= 1 {
		body(0, rows)
		return
	}

	chunk := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < rows; start += chunk {
		end := start + chunk
		if end > rows {
			end = rows
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			body(start, end)
		}(start, end)
	}
	wg.Wait()
}
