package model

import "math/rand"

// DefaultProtagonistPool is the fixed pool of protagonist descriptions a new
// adventure selects from at creation time.
var DefaultProtagonistPool = []string{
	"a curious traveler with a weathered satchel and quick, searching eyes",
	"a quiet apprentice who notices details everyone else walks past",
	"a restless wanderer who keeps a half-finished map tucked in their coat",
	"a steady-handed newcomer who asks more questions than they answer",
}

// SelectProtagonist picks one description from pool at random. Called once,
// on the `start` transition, before the adventure's first persist — the
// result becomes AdventureState.ProtagonistDescription, which is immutable
// thereafter.
func SelectProtagonist(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.Intn(len(pool))]
}
