// ABOUTME: Build-tagged file that indicates the race detector is enabled.
// ABOUTME: Tests touching the badger results archive skip under race.
//go:build race

package integration

// raceEnabled is true when the race detector is active.
const raceEnabled = true
