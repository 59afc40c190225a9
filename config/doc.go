// Package config loads the pipeline configuration: built-in defaults, then a
// YAML file, then MEDRAG_* environment variables, then validators.
package config
