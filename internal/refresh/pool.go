package refresh

import "sync"

// workerPool runs indexed jobs on a fixed number of goroutines
type workerPool struct {
	workers int
}

func newWorkerPool(workers int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	return &workerPool{workers: workers}
}

// Run calls job for every index in [0, n) and returns when all calls finished
func (wp *workerPool) Run(n int, job func(i int)) {
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < wp.workers && w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				job(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
