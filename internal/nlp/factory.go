package nlp

import (
	"log"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/llm"
)

// New builds the configured Analyzer. The prose analyzer is always created
// because it tags tokens and backs up remote extraction.
func New(cfg config.NLPConfig, logger *log.Logger) (Analyzer, error) {
	local, err := NewProseAnalyzer()
	if err != nil {
		return nil, err
	}

	gen, err := llm.NewTextGenerator(cfg)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return local, nil
	}
	return NewLLMAnalyzer(gen, local, logger), nil
}
