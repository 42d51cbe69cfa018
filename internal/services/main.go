// Package services holds the adapters to the outside world: the streaming client of the Ollama chat API.
package services

const errLoggerKey = "err"
