package data

// Indexing strategies the watermark is tracked for.
const (
	StrategyAllTokens = "all_tokens"
	StrategyCurated   = "curated"
)

type Watermarks interface {
	// Get returns nil when no watermark was saved for the strategy yet.
	Get(strategy string) (*uint64, error)
	Set(strategy string, block uint64) error
}
