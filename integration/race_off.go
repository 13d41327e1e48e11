// ABOUTME: Build-tagged file that indicates the race detector is disabled.
// ABOUTME: Tests touching the badger results archive skip under race.
//go:build !race

package integration

// raceEnabled is false when the race detector is not active.
// nolint:unused // This const is used via build tag switching with race_on.go
const raceEnabled = false
