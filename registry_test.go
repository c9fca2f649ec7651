package rfpipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/rfpipe/attrs"
)

func TestRegisterFactoryRejectsDuplicateName(t *testing.T) {
	name := "registry_test_duplicate"
	RegisterFactory(name, func(doc attrs.Doc) (Stage, error) {
		return newPassThrough("pt", 64), nil
	})

	assert.Panics(t, func() {
		RegisterFactory(name, func(doc attrs.Doc) (Stage, error) {
			return newPassThrough("pt", 64), nil
		})
	}, "registering the same class_name twice must panic")
}

func TestFromJSONDispatchesOnClassName(t *testing.T) {
	name := "registry_test_roundtrip"
	RegisterFactory(name, func(doc attrs.Doc) (Stage, error) {
		nt, err := doc.Int64("nt_chunk")
		if err != nil {
			return nil, err
		}
		return newPassThrough("pt", nt), nil
	})

	s, err := FromJSON(attrs.Doc{"class_name": name, "nt_chunk": int64(128)})
	require.NoError(t, err)
	assert.Equal(t, int64(128), s.(*passThrough).ntChunk)
}

func TestFromJSONRejectsUnknownClassName(t *testing.T) {
	_, err := FromJSON(attrs.Doc{"class_name": "registry_test_unregistered"})
	assert.Error(t, err)
}

func TestFromJSONRequiresClassName(t *testing.T) {
	_, err := FromJSON(attrs.Doc{})
	assert.Error(t, err)
}
