package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	return &Event{
		Time:        time.Date(2023, 11, 5, 1, 30, 0, 0, time.UTC),
		Category:    CategoryBots,
		Restriction: RestrictionNeedToKnow,
		Confidence:  ConfidenceMedium,
		Address:     []Address{{IP: "10.0.0.5", ASN: 64512}},
		Source:      "abuse-ch.feodotracker",
	}
}

func TestEvent_Validate(t *testing.T) {
	require.NoError(t, validEvent().Validate())

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing time", func(e *Event) { e.Time = time.Time{} }},
		{"unknown category", func(e *Event) { e.Category = "nonsense" }},
		{"unknown restriction", func(e *Event) { e.Restriction = "secret" }},
		{"unknown confidence", func(e *Event) { e.Confidence = "certain" }},
		{"missing source", func(e *Event) { e.Source = "" }},
		{"bad address", func(e *Event) { e.Address = []Address{{IP: "999.1.1.1"}} }},
		{"dport out of range", func(e *Event) { e.DPort = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	exp := time.Date(2023, 12, 5, 1, 30, 0, 0, time.UTC)
	e := validEvent()
	e.FQDN = "evil.example.com"
	e.URL = "http://evil.example.com/payload"
	e.DPort = 443
	e.Name = "feodo"
	e.Expires = &exp
	e.AdditionalData = map[string]any{"sample": "de:ad:be:ef"}
	e.Clients = []string{"org-a", "org-b"}
	e.URLMatches = []string{"example.com/"}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	// Canonical time rendering on the wire.
	assert.Contains(t, string(data), `"time":"2023-11-05 01:30:00"`)
	assert.Contains(t, string(data), `"expires":"2023-12-05 01:30:00"`)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Time.Equal(e.Time))
	require.NotNil(t, decoded.Expires)
	assert.True(t, decoded.Expires.Equal(exp))
	assert.Equal(t, e.Category, decoded.Category)
	assert.Equal(t, e.Address, decoded.Address)
	assert.Equal(t, e.Clients, decoded.Clients)
	assert.Equal(t, e.URLMatches, decoded.URLMatches)
	assert.Equal(t, e.FormatVersion, decoded.FormatVersion)
}

func TestEvent_ClientKeyPresence(t *testing.T) {
	// Before routing the key is absent entirely.
	parsed := validEvent()
	data, err := json.Marshal(parsed)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"client"`)

	// Routed with no matching org: explicit empty list.
	routed := validEvent()
	routed.Clients = []string{}
	data, err = json.Marshal(routed)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"client":[]`)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotNil(t, decoded.Clients)
	assert.Empty(t, decoded.Clients)
}

func TestEvent_TimeNormalizedToUTC(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	e := validEvent()
	e.Time = time.Date(2023, 6, 1, 14, 0, 0, 0, warsaw)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"time":"2023-06-01 12:00:00"`)
}

func TestEvent_HashDeterministic(t *testing.T) {
	e1 := validEvent()
	e2 := validEvent()

	h1, err := e1.Hash()
	require.NoError(t, err)
	h2, err := e2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	e2.FQDN = "other.example.net"
	h3, err := e2.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEnums(t *testing.T) {
	assert.True(t, CategoryCNC.Valid())
	assert.False(t, Category("cooking").Valid())
	assert.True(t, RestrictionPublic.Valid())
	assert.False(t, Restriction("").Valid())
	assert.True(t, ConfidenceHigh.Valid())
	assert.False(t, Confidence("maybe").Valid())
}
