package finalize

import (
	"fmt"
	"io"

	"github.com/kesvarga/histsplice/internal/gitproc"
)

// WaitChildren closes the consumer's stdin, then waits for the producer and
// the consumer in that order, surfacing whichever exits non-zero first.
// When importBroken is
// true the consumer's input pipe already broke mid-stream, so a non-zero
// producer exit is expected collateral damage and is not itself treated as
// the run's failure — the consumer's exit code is.
func WaitChildren(consumerStdin io.Closer, producer, consumer *gitproc.Command, importBroken bool) error {
	if consumerStdin != nil {
		_ = consumerStdin.Close()
	}

	producerErr := producer.Wait()
	if producerErr != nil && !importBroken {
		return fmt.Errorf("fast-export failed: %w", producerErr)
	}

	if consumer == nil {
		return nil
	}
	if consumerErr := consumer.Wait(); consumerErr != nil {
		return fmt.Errorf("fast-import failed: %w", consumerErr)
	}
	return nil
}
