package anthropic

// BuildCachedSystemBlocks wraps a system prompt in a single block with a
// 1-hour cache TTL. The classify and score stages send the same system
// prompt for every batch of one run, so caching it cuts input cost.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}
