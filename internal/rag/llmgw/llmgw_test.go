package llmgw

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFake_CompleteShort(t *testing.T) {
	f := &Fake{ShortAnswer: "hypothetical regulatory passage"}
	out, err := f.CompleteShort(context.Background(), "expand: what is CET1", 0.7, 250)
	require.NoError(t, err)
	require.Equal(t, "hypothetical regulatory passage", out)
}

func TestFake_CompleteShort_Error(t *testing.T) {
	f := &Fake{ShortErr: errors.New("boom")}
	_, err := f.CompleteShort(context.Background(), "x", 0.7, 250)
	require.Error(t, err)
}

func TestFake_Stream_EmitsPartsInOrder(t *testing.T) {
	f := &Fake{StreamParts: []string{"The ", "minimum ", "ratio."}}
	textCh, errCh := f.Stream(context.Background(), nil, "", 0.2, 1024)

	var got []string
	for p := range textCh {
		got = append(got, p)
	}
	require.NoError(t, <-errCh)
	require.Equal(t, []string{"The ", "minimum ", "ratio."}, got)
}

func TestFake_Stream_PropagatesErrorAfterParts(t *testing.T) {
	f := &Fake{StreamParts: []string{"partial"}, StreamErr: errors.New("upstream dropped")}
	textCh, errCh := f.Stream(context.Background(), nil, "", 0.2, 1024)
	for range textCh {
	}
	require.Error(t, <-errCh)
}

func TestFake_Stream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fake{StreamParts: []string{"a", "b", "c"}}
	textCh, errCh := f.Stream(ctx, nil, "", 0.2, 1024)
	<-textCh
	cancel()
	for range textCh {
	}
	err := <-errCh
	require.True(t, errors.Is(err, context.Canceled) || err == nil)
}
