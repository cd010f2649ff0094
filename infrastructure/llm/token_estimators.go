package llm

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultCharsPerToken approximates tokenizers of current model families.
const DefaultCharsPerToken = 4.0

// Estimator names accepted by NewTokenEstimator.
const (
	EstimatorCharacters = "chars"
	EstimatorWords      = "words"
)

// NewTokenEstimator returns the estimator registered under name. An empty
// name selects the character-based estimator.
func NewTokenEstimator(name string) (TokenEstimator, error) {
	switch name {
	case "", EstimatorCharacters:
		return NewCharacterBasedTokenEstimator(DefaultCharsPerToken), nil
	case EstimatorWords:
		return NewWordBasedTokenEstimator(0), nil
	default:
		return nil, fmt.Errorf("unknown token estimator %q", name)
	}
}

// CharacterBasedTokenEstimator estimates tokens from the number of
// characters. Characters are counted as runes so multi-byte text is not
// overcounted.
type CharacterBasedTokenEstimator struct{ charsPerToken float64 }

// NewCharacterBasedTokenEstimator creates a character-based estimator.
// Non-positive ratios fall back to DefaultCharsPerToken.
func NewCharacterBasedTokenEstimator(charactersPerToken float64) *CharacterBasedTokenEstimator {
	if charactersPerToken <= 0 {
		charactersPerToken = DefaultCharsPerToken
	}
	return &CharacterBasedTokenEstimator{charsPerToken: charactersPerToken}
}

// EstimateTokens rounds up, so any non-empty text counts as at least one
// token.
func (e *CharacterBasedTokenEstimator) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / e.charsPerToken))
}

// WordBasedTokenEstimator estimates tokens from whitespace-separated words.
type WordBasedTokenEstimator struct{ TokensPerWord float64 }

// NewWordBasedTokenEstimator creates a word-based estimator. Typical values
// are 0.75 for English and 0.6 to 0.9 for other languages.
func NewWordBasedTokenEstimator(tokensPerWord float64) *WordBasedTokenEstimator {
	if tokensPerWord <= 0 {
		tokensPerWord = 0.75
	}
	return &WordBasedTokenEstimator{TokensPerWord: tokensPerWord}
}

// EstimateTokens splits text on whitespace and applies the ratio.
func (e *WordBasedTokenEstimator) EstimateTokens(text string) int {
	words := strings.Fields(text)
	return int(float64(len(words)) * e.TokensPerWord)
}
