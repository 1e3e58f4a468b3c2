package internal

import (
	"fmt"
	"math/rand"
	"strings"
)

// Word lists for placeholder profile generation. New accounts get a readable
// nickname ("Cosmic Panda") and a matching username ("cosmic_panda4821")
// until they pick their own.
var placeholderAdjectives = []string{
	"Swift", "Clever", "Bright", "Bold", "Calm", "Daring", "Eager", "Fancy",
	"Gentle", "Happy", "Jolly", "Keen", "Lively", "Mighty", "Noble", "Peppy",
	"Quick", "Radiant", "Sunny", "Witty", "Zesty", "Cosmic", "Lucky", "Mystic",
	"Pixel", "Quantum", "Retro", "Stellar", "Turbo", "Ultra", "Velvet", "Warp",
	"Amber", "Azure", "Crimson", "Emerald", "Golden", "Indigo", "Jade", "Lunar",
	"Neon", "Onyx", "Pearl", "Ruby", "Silver", "Violet", "Crystal", "Shadow",
}

var placeholderNouns = []string{
	"Panda", "Phoenix", "Dragon", "Wolf", "Falcon", "Tiger", "Bear", "Fox",
	"Hawk", "Lion", "Raven", "Shark", "Viper", "Eagle", "Panther", "Cobra",
	"Comet", "Nova", "Star", "Moon", "Spark", "Storm", "Wave", "Flame",
	"Frost", "Thunder", "Blaze", "Echo", "Drift", "Pulse", "Dash", "Flash",
	"Knight", "Ninja", "Pilot", "Ranger", "Scout", "Wizard", "Hunter", "Voyager",
	"Byte", "Cipher", "Glitch", "Matrix", "Nexus", "Pixel", "Proxy", "Vector",
}

type PlaceholderProfile struct {
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

func GeneratePlaceholderProfile() PlaceholderProfile {
	adjective := placeholderAdjectives[rand.Intn(len(placeholderAdjectives))]
	noun := placeholderNouns[rand.Intn(len(placeholderNouns))]
	number := 1000 + rand.Intn(8999)

	return PlaceholderProfile{
		Username: fmt.Sprintf("%s_%s%d", strings.ToLower(adjective), strings.ToLower(noun), number),
		Nickname: fmt.Sprintf("%s %s", adjective, noun),
	}
}
