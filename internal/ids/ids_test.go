package ids

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workrail/core/internal/workrailerr"
)

func TestFactoryMintsValidDistinctIds(t *testing.T) {
	f := NewFactory(nil)
	s1, err := f.NewSessionId()
	require.NoError(t, err)
	s2, err := f.NewSessionId()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2, "equal entropy is forbidden")
	assert.True(t, Valid(string(s1), "sess"))

	r, err := f.NewRunId()
	require.NoError(t, err)
	assert.True(t, Valid(string(r), "run"))
}

type exhaustedSource struct{}

func (exhaustedSource) Read(n int) ([]byte, error) { return []byte{1, 2, 3}, nil }

func TestFactoryReportsEntropyExhausted(t *testing.T) {
	f := NewFactory(exhaustedSource{})
	_, err := f.NewSessionId()
	require.Error(t, err)
	var werr *workrailerr.Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, workrailerr.CodeEntropyExhausted, werr.Code)
}

func TestValidRejectsWrongPrefixAndShape(t *testing.T) {
	f := NewFactory(nil)
	id, err := f.NewNodeId()
	require.NoError(t, err)
	assert.False(t, Valid(string(id), "run"))
	assert.False(t, Valid("not-an-id", "sess"))
	assert.False(t, Valid("sess_TOOSHORT", "sess"))
}
