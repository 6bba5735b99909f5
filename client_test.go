package cmdrdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestWrapClientWiresTrackedSurface(t *testing.T) {
	tracker, err := NewTracker(WithAPIKey("test-key"))
	require.NoError(t, err)

	inner := &genai.Client{}
	wrapped := WrapClient(inner, tracker)

	require.NotNil(t, wrapped.Models)
	assert.Same(t, inner, wrapped.Client)
	assert.Same(t, tracker, wrapped.Tracker())
	assert.Same(t, tracker, wrapped.Models.tracker)
}

func TestWrapClientWithoutTracker(t *testing.T) {
	wrapped := WrapClient(&genai.Client{}, nil)
	require.NotNil(t, wrapped.Models)
	assert.Nil(t, wrapped.Models.sink())
	assert.Same(t, defaultLogger, wrapped.Models.logger())
}
