// Package deploy provides the backend-specific challenge deployers.
// Each backend (kubectl, docker-compose, none) implements the same
// lifecycle contract: health check, idempotent deploy, no-op-safe
// cleanup, and structured status. Backends shell out through an
// injectable Runner so tests never touch real tooling.
package deploy
