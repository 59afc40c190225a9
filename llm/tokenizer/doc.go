// Package tokenizer counts and truncates tokens for prompt budgeting.
//
// Two implementations are provided: TiktokenTokenizer for OpenAI-family
// encodings and EstimatorTokenizer, a rune-ratio estimator used when no
// exact encoding is available or downloads are not allowed.
package tokenizer
