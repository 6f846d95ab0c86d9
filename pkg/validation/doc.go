// Package validation checks submitted flags against per-level validator
// scripts. A validator is an executable shipped with the level; exit code
// zero means the flag is correct and the level's success criteria hold.
package validation
