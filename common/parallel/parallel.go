// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parallel

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

const chanSize = 1024

/* Parallel Schedulers */

// Parallel schedules and runs tasks in parallel. nJobs is the number of tasks. nWorkers is
// the number of executors. worker is the executed function which is passed the worker id
// and the job id. The first failed job (by job id) is returned and cancels jobs that have
// not started yet. A panic inside worker is recovered and reported as the job's error.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := safeRun(worker, 0, i); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := make(chan int, chanSize)
	// producer
	go func() {
		defer close(c)
		for i := 0; i < nJobs; i++ {
			select {
			case <-ctx.Done():
				return
			case c <- i:
			}
		}
	}()
	// consumer
	var wg sync.WaitGroup
	errs := make([]error, nJobs)
	for j := 0; j < nWorkers; j++ {
		workerId := j
		wg.Go(func() {
			for jobId := range c {
				if err := ctx.Err(); err != nil {
					errs[jobId] = err
					continue
				}
				if err := safeRun(worker, workerId, jobId); err != nil {
					errs[jobId] = err
					cancel()
				}
			}
		})
	}
	wg.Wait()
	// a job failure cancels the context, so report real failures before cancellations
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return errors.Trace(err)
		}
	}
	for _, err := range errs {
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func safeRun(worker func(workerId, jobId int) error, workerId, jobId int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job %d panicked: %v", jobId, r)
		}
	}()
	return worker(workerId, jobId)
}

// Map applies f to every element with at most nWorkers goroutines. Results keep the
// order of the input regardless of completion order.
func Map[T, R any](ctx context.Context, a []T, nWorkers int, f func(int, T) (R, error)) ([]R, error) {
	results := make([]R, len(a))
	err := Parallel(ctx, len(a), nWorkers, func(_, jobId int) error {
		r, err := f(jobId, a[jobId])
		if err != nil {
			return err
		}
		results[jobId] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Split divides a into at most n chunks of near-equal size in the original order. Larger
// chunks come first.
func Split[T any](a []T, n int) [][]T {
	if len(a) == 0 {
		return nil
	}
	n = max(1, min(n, len(a)))
	chunks := make([][]T, 0, n)
	for i := 0; i < n; i++ {
		// the first len(a)%n chunks take one extra element
		begin := i*(len(a)/n) + min(i, len(a)%n)
		end := begin + len(a)/n
		if i < len(a)%n {
			end++
		}
		chunks = append(chunks, a[begin:end])
	}
	return chunks
}

// Workers returns the size of a bounded pool: min(limit, nJobs), at least one.
func Workers(limit, nJobs int) int {
	return max(1, min(limit, nJobs))
}
