/*
Command medrag answers medical questions from a curated corpus, grades the
answer against its evidence and falls back to trusted web sources when the
evidence is weak.

Usage:

	medrag ask "What is the maximum daily dose of acetaminophen?"
	medrag ask --user u1 --strategy tiered --json "..."
	medrag index corpus.jsonl
	medrag remember --user u1 --kind medication "takes lisinopril 10 mg daily"
	medrag forget --user u1
	medrag config
	medrag version

Configuration is read from --config (YAML) and MEDRAG_* environment
variables.
*/
package main
