package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaTableYAML = `
schemas:
  - source: abuse-ch.feodotracker
    format_version: "202110"
    content_type: text/csv
    comment_prefix: "#"
    row_policy: skip
    expires_offset: 48h
    constants:
      category: cnc
      restriction: public
      confidence: medium
      name: feodo
    fields:
      - column: 0
        target: time
        required: true
      - column: 1
        target: ip
        required: true
        adjusters:
          - name: trim
      - column: 2
        target: dport
  - source: openphish.web
    format_version: "2"
    content_type: application/json
    constants:
      category: phish
      restriction: public
      confidence: low
    fields:
      - key: discovered_at
        target: time
        required: true
      - key: hostname
        target: fqdn
        adjusters:
          - name: lowercase
          - name: strip_dot
    fan_out:
      key: urls
      target: url
`

func TestParseSchemas(t *testing.T) {
	registry, err := ParseSchemas([]byte(schemaTableYAML))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"abuse-ch.feodotracker", "openphish.web"}, registry.Sources())

	feodo, err := registry.Lookup("abuse-ch.feodotracker", "202110")
	require.NoError(t, err)
	assert.Equal(t, ContentCSV, feodo.ContentType)
	assert.Equal(t, 48*time.Hour, feodo.ExpiresOffset)
	assert.Equal(t, "cnc", feodo.Constants["category"])
	require.Len(t, feodo.Fields, 3)
	assert.True(t, feodo.Fields[0].Required)
	assert.Len(t, feodo.Fields[1].Adjusters, 1)

	phish, err := registry.Lookup("openphish.web", "2")
	require.NoError(t, err)
	require.NotNil(t, phish.FanOut)
	assert.Equal(t, "urls", phish.FanOut.Key)
}

func TestParsedSchemaEndToEnd(t *testing.T) {
	registry, err := ParseSchemas([]byte(schemaTableYAML))
	require.NoError(t, err)

	schema, err := registry.Lookup("abuse-ch.feodotracker", "202110")
	require.NoError(t, err)

	res, err := schema.Apply([]byte("2023-06-01 10:00:00, 192.0.2.7 ,443\n"))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "192.0.2.7", res.Events[0].Address[0].IP)
	require.NotNil(t, res.Events[0].Expires)
}

func TestParseSchemasRejectsUnknownAdjuster(t *testing.T) {
	_, err := ParseSchemas([]byte(`
schemas:
  - source: a.b
    format_version: "1"
    content_type: text/csv
    fields:
      - column: 0
        target: time
        adjusters:
          - name: frobnicate
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adjuster")
}

func TestParseSchemasRejectsEmptyTable(t *testing.T) {
	_, err := ParseSchemas([]byte("schemas: []\n"))
	require.Error(t, err)
}
