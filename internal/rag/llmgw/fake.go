package llmgw

import "context"

// Fake is a network-free Gateway for tests and for the answer composer's
// own unit tests: CompleteShort echoes a canned hypothetical document,
// Stream replays a fixed script of text deltas.
type Fake struct {
	ShortAnswer string
	ShortErr    error
	StreamParts []string
	StreamErr   error
}

func (f *Fake) CompleteShort(_ context.Context, _ string, _ float64, _ int) (string, error) {
	if f.ShortErr != nil {
		return "", f.ShortErr
	}
	return f.ShortAnswer, nil
}

func (f *Fake) Stream(ctx context.Context, _ []Message, _ string, _ float64, _ int) (<-chan string, <-chan error) {
	textCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(textCh)
		defer close(errCh)
		for _, p := range f.StreamParts {
			select {
			case textCh <- p:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if f.StreamErr != nil {
			errCh <- f.StreamErr
		}
	}()
	return textCh, errCh
}
