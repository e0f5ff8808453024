package pipeline

import "go.uber.org/zap"

// NewLogger builds the zap.Logger the CLI driver installs on
// PipelineConfig.Logger: development encoding (human-readable, colored
// level) when debug is true, production JSON encoding otherwise.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
