package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

type stubWorker struct{}

func (stubWorker) Start(ctx context.Context)   {}
func (stubWorker) Recover(action retry.Action) {}
func (stubWorker) Done() <-chan struct{}       { return closedChan }

var closedChan = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func TestRegisterAndLookup(t *testing.T) {
	resetForTest()
	fields := schema.Fields{{Name: "url", Type: schema.TypeString, Required: true}}
	Register("stub", fields, func(id envelope.MonitorID, cfg map[string]any, inbox chan<- envelope.Envelope) (Worker, error) {
		return stubWorker{}, nil
	})

	f, ok := Lookup("stub")
	require.True(t, ok)
	w, err := f("m1", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, stubWorker{}, w)

	schemas := Schemas()
	assert.Contains(t, schemas, "stub")
}

func TestRegisterDuplicateTagPanics(t *testing.T) {
	resetForTest()
	fields := schema.Fields{}
	Register("dup", fields, func(envelope.MonitorID, map[string]any, chan<- envelope.Envelope) (Worker, error) {
		return stubWorker{}, nil
	})
	assert.Panics(t, func() {
		Register("dup", fields, func(envelope.MonitorID, map[string]any, chan<- envelope.Envelope) (Worker, error) {
			return stubWorker{}, nil
		})
	})
}

func TestLookupUnknownTag(t *testing.T) {
	resetForTest()
	_, ok := Lookup("nope")
	assert.False(t, ok)
}
