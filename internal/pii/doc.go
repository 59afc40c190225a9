// Package pii detects and masks personal identifiers in text leaving the
// pipeline: email addresses, phone numbers, US social security numbers,
// payment card numbers, medical record numbers and IPv4 addresses.
package pii
