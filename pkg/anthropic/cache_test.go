package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("You identify wines.", "1h")
	require.Len(t, blocks, 1)
	assert.Equal(t, "You identify wines.", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks_EmptyText(t *testing.T) {
	assert.Nil(t, BuildCachedSystemBlocks("", "5m"))
}

func TestBuildCachedSystemBlocks_ConvertsToEphemeral(t *testing.T) {
	sdkBlocks := toSDKSystemBlocks(BuildCachedSystemBlocks("prompt", "5m"))
	require.Len(t, sdkBlocks, 1)
	assert.Equal(t, "prompt", sdkBlocks[0].Text)
	assert.Equal(t, "5m", string(sdkBlocks[0].CacheControl.TTL))
}
