package utils

import (
	"strconv"
	"strings"
)

const (
	ColorGreen  = 3066993
	ColorOrange = 15105570
	ColorRed    = 15158332
	ColorBlue   = 3447003
)

// ParseHexColor parses a hex color string (like "#FACF24") into an integer for Discord embeds.
// Returns fallback if parsing fails.
func ParseHexColor(hexColor string, fallback int) int {
	hexColor = strings.TrimPrefix(strings.TrimSpace(hexColor), "#")
	if hexColor == "" {
		return fallback
	}
	colorInt, err := strconv.ParseInt(hexColor, 16, 64)
	if err != nil {
		return fallback
	}
	return int(colorInt)
}
