package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The identification prompt is identical across requests, so
// repeated calls within the TTL read it from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
