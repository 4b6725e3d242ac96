package verifier

import (
	"runtime"
	"sync"
)

// TxResult pairs a verified transaction (or error) with the index of its
// payload in the batch, so callers can reassemble results in submission
// order after fan-out.
type TxResult struct {
	Index int
	Tx    VerifiedTransaction
	Err   error
}

// VerifyBatch verifies a batch of transaction payloads in parallel.
// Signature checking is embarrassingly parallel, so this fans the batch
// out across a bounded worker pool sized to the number of available CPUs
// rather than verifying one payload at a time.
func VerifyBatch(payloads [][]byte) []TxResult {
	results := make([]TxResult, len(payloads))

	workers := runtime.NumCPU()
	if workers > len(payloads) {
		workers = len(payloads)
	}
	if workers < 1 {
		return results
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				tx, err := VerifyTransaction(payloads[i])
				results[i] = TxResult{Index: i, Tx: tx, Err: err}
			}
		}()
	}

	for i := range payloads {
		jobs <- i
	}
	close(jobs)

	wg.Wait()

	return results
}
