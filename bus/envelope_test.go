package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMessageID_Deterministic(t *testing.T) {
	payload := []byte("10.0.0.5,2023-11-05 01:30:00,malware")

	id1 := ComputeMessageID(payload)
	id2 := ComputeMessageID(payload)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64) // hex sha256

	other := ComputeMessageID([]byte("different payload"))
	assert.NotEqual(t, id1, other)
}

func TestNewEnvelope(t *testing.T) {
	key := NewRoutingKey("event", StageRaw, "source-x")
	env := NewEnvelope(key, []byte("payload"), "text/csv", "202301")

	require.NoError(t, env.Validate())
	assert.Equal(t, ComputeMessageID([]byte("payload")), env.MessageID)
	assert.Equal(t, "text/csv", env.ContentType)
	assert.Equal(t, "202301", env.FormatVersion)
	assert.WithinDuration(t, time.Now(), env.CapturedAt, time.Minute)
}

func TestEnvelope_Validate(t *testing.T) {
	key := NewRoutingKey("event", StageRaw, "source-x")

	env := NewEnvelope(key, []byte("payload"), "text/csv", "")
	assert.NoError(t, env.Validate())

	empty := NewEnvelope(key, nil, "text/csv", "")
	assert.Error(t, empty.Validate())

	badKey := NewEnvelope(RoutingKey{}, []byte("payload"), "text/csv", "")
	assert.Error(t, badKey.Validate())

	noID := NewEnvelope(key, []byte("payload"), "text/csv", "")
	noID.MessageID = ""
	assert.Error(t, noID.Validate())
}

func TestEnvelope_HeaderRoundTrip(t *testing.T) {
	key := NewRoutingKey("event", StageRaw, "abuse-ch.feodotracker")
	env := NewEnvelope(key, []byte("a,b,c"), "text/csv", "202301")
	env.Headers = map[string]string{"N6-Channel": "feodotracker"}

	msg := env.toNATS()
	assert.Equal(t, "event.raw.abuse-ch.feodotracker", msg.Subject)
	assert.Equal(t, env.MessageID, msg.Header.Get(HeaderMessageID))
	assert.Equal(t, "text/csv", msg.Header.Get(HeaderContentType))
	assert.Equal(t, "202301", msg.Header.Get(HeaderFormatVersion))
	assert.Equal(t, "feodotracker", msg.Header.Get("N6-Channel"))
	assert.NotEmpty(t, msg.Header.Get(HeaderTimestamp))
}
