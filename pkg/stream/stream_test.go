package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromSliceThenCollect(t *testing.T) {
	s := FromSlice([]any{1, 2, 3})
	got, err := Collect(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, []any{1, 2, 3}, got)
}

func TestSendBlocksUntilDrained(t *testing.T) {
	s := NewSequence(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Send(context.Background(), "first")
		_ = s.Send(context.Background(), "second")
		s.CloseOK()
	}()

	v, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", v)

	v, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second", v)

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)

	<-done
}

func TestNextReportsContextCancellationAndCancelsOnce(t *testing.T) {
	var cancelCalls int
	s := NewSequence(func() { cancelCalls++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, cancelCalls)

	s.Cancel()
	require.Equal(t, 1, cancelCalls)
}

func TestSendErrorTerminatesSequence(t *testing.T) {
	s := NewSequence(nil)
	boom := errors.New("boom")
	go s.SendError(boom)

	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestSendRespectsContextTimeout(t *testing.T) {
	s := NewSequence(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Fill the one-slot buffer so the second Send must wait on ctx.
	require.NoError(t, s.Send(context.Background(), "x"))
	err := s.Send(ctx, "y")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
