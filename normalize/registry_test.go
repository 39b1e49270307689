package normalize

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n6errors "github.com/CERT-Polska/n6-sub011/errors"
)

func TestRegistryVersionSelection(t *testing.T) {
	r := NewRegistry()

	v1 := &Schema{Source: "a.b", FormatVersion: "1", ContentType: ContentCSV}
	v2 := &Schema{Source: "a.b", FormatVersion: "2", ContentType: ContentJSON}
	require.NoError(t, r.Register(v1))
	require.NoError(t, r.Register(v2))

	got, err := r.Lookup("a.b", "1")
	require.NoError(t, err)
	assert.Same(t, v1, got)

	got, err = r.Lookup("a.b", "2")
	require.NoError(t, err)
	assert.Same(t, v2, got)
}

func TestRegistryUnknownVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Schema{Source: "a.b", FormatVersion: "1", ContentType: ContentCSV}))

	_, err := r.Lookup("a.b", "99")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, n6errors.ErrNoSchema))
}

func TestRegistryUnknownSource(t *testing.T) {
	_, err := NewRegistry().Lookup("nobody.nothing", "1")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, n6errors.ErrNoSchema))
	assert.True(t, n6errors.IsFatal(err))
}

func TestRegistryUntaggedUnitWithSingleVersion(t *testing.T) {
	r := NewRegistry()
	only := &Schema{Source: "a.b", FormatVersion: "1", ContentType: ContentCSV}
	require.NoError(t, r.Register(only))

	got, err := r.Lookup("a.b", "")
	require.NoError(t, err)
	assert.Same(t, only, got)
}

func TestRegistryUntaggedUnitAmbiguousWithTwoVersions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Schema{Source: "a.b", FormatVersion: "1", ContentType: ContentCSV}))
	require.NoError(t, r.Register(&Schema{Source: "a.b", FormatVersion: "2", ContentType: ContentCSV}))

	_, err := r.Lookup("a.b", "")
	require.Error(t, err)
}

func TestRegistryRejectsDuplicateBinding(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Schema{Source: "a.b", FormatVersion: "1", ContentType: ContentCSV}))

	err := r.Register(&Schema{Source: "a.b", FormatVersion: "1", ContentType: ContentCSV})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}
