package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/dispatch"
	"github.com/stretchr/testify/assert"
)

func TestMockRunner_DefaultSucceeds(t *testing.T) {
	mock := NewMockRunner()

	out, err := mock.Run(context.Background(), Item{Layer: medallion.LayerBronze, EntityID: 7})

	assert.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
	assert.Len(t, mock.Calls(), 1)
	assert.Equal(t, int64(7), mock.Calls()[0].EntityID)
}

func TestMockRunner_UsesRunFunc(t *testing.T) {
	mock := NewMockRunner()
	boom := errors.New("boom")
	mock.RunFunc = func(ctx context.Context, item Item) (Outcome, error) {
		return Outcome{Log: "ran"}, boom
	}

	out, err := mock.Run(context.Background(), Item{})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "ran", out.Log)
}

func TestMockRunner_Reset(t *testing.T) {
	mock := NewMockRunner()
	_, _ = mock.Run(context.Background(), Item{})
	_, _ = mock.Run(context.Background(), Item{})
	assert.Len(t, mock.RunCalls, 2)

	mock.Reset()
	assert.Empty(t, mock.RunCalls)
}

func TestRunnerFunc(t *testing.T) {
	var runner Runner = RunnerFunc(func(ctx context.Context, item Item) (Outcome, error) {
		return Outcome{Table: item.Instruction.Path}, nil
	})

	out, err := runner.Run(context.Background(), Item{Instruction: dispatch.Instruction{Path: "silver_load"}})

	assert.NoError(t, err)
	assert.Equal(t, "silver_load", out.Table)
}
