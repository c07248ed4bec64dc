package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JorgeSuarezV/argos/internal/envelope"
)

func testEnvelope(data string) envelope.Envelope {
	return envelope.NewSuccess("m1", map[string]any{"seq": data}, time.Now().UTC())
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := New()
	inbox := make(Inbox, 4)
	r.Register("r1", inbox)
	r.Register("r1", inbox)
	assert.Equal(t, 1, r.Count("r1"))
}

func TestDispatchDropsSilentlyWhenNoSubscribers(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() {
		r.Dispatch("nobody", Delivery{Tag: TagMonitorData, Envelope: testEnvelope("1")})
	})
}

func TestDispatchNonBlockingOnFullInbox(t *testing.T) {
	r := New()
	full := make(Inbox, 1)
	full <- Delivery{} // fill it
	r.Register("r1", full)

	done := make(chan struct{})
	go func() {
		r.Dispatch("r1", Delivery{Tag: TagMonitorData, Envelope: testEnvelope("1")})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full inbox")
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New()
	inbox := make(Inbox, 1)
	r.Register("r1", inbox)
	r.Unregister("r1", inbox)
	assert.Equal(t, 0, r.Count("r1"))
}

// TestFanOutOrderingS6 exercises S6 from spec §8: a single monitor
// emitting e1,e2,e3 to two subscribers; each subscriber must observe
// its own sequence in emission order (no ordering constraint between
// subscribers).
func TestFanOutOrderingS6(t *testing.T) {
	r := New()
	sa := make(Inbox, 8)
	sb := make(Inbox, 8)
	r.Register("S_a", sa)
	r.Register("S_b", sb)

	envs := []envelope.Envelope{testEnvelope("e1"), testEnvelope("e2"), testEnvelope("e3")}
	for _, e := range envs {
		msg := Delivery{Tag: TagMonitorData, Envelope: e}
		r.Dispatch("S_a", msg)
		r.Dispatch("S_b", msg)
	}

	for _, inbox := range []Inbox{sa, sb} {
		for i, want := range envs {
			select {
			case got := <-inbox:
				require.Equal(t, want.Data["seq"], got.Envelope.Data["seq"], "message %d out of order", i)
			default:
				t.Fatalf("expected message %d, inbox empty", i)
			}
		}
	}
}

func TestManySubscribersPerName(t *testing.T) {
	r := New()
	a := make(Inbox, 1)
	b := make(Inbox, 1)
	r.Register("r1", a)
	r.Register("r1", b)
	r.Dispatch("r1", Delivery{Tag: TagMonitorData, Envelope: testEnvelope("1")})
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}
