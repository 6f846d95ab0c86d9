// Package domain loads training domains from disk and wires each one to
// its deployment backend, safety guard, and validator. A domain is a
// directory carrying domain.yaml plus world subdirectories of numbered
// levels; everything about it is declarative and immutable after load.
package domain
