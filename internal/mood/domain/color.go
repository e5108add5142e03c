package mood

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Color is an RGB indicator color.
type Color struct {
	Red   int `json:"red"`
	Green int `json:"green"`
	Blue  int `json:"blue"`
}

// Hex formats the color as #RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", clampByte(c.Red), clampByte(c.Green), clampByte(c.Blue))
}

// ParseHex parses #RRGGBB or RRGGBB.
func ParseHex(value string) (Color, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(value) != 6 {
		return Color{}, fmt.Errorf("mood: invalid color %q", value)
	}
	rgb, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("mood: invalid color %q", value)
	}
	return Color{
		Red:   int(rgb >> 16 & 0xFF),
		Green: int(rgb >> 8 & 0xFF),
		Blue:  int(rgb & 0xFF),
	}, nil
}

// ScoreColor maps 0..100 onto red through yellow (at pivot) to green.
func ScoreColor(score int, pivot float64) Color {
	s := math.Max(0, math.Min(100, float64(score)))
	if pivot <= 0 || pivot >= 100 {
		pivot = 50
	}
	if s <= pivot {
		return Color{Red: 255, Green: int(math.Round(255 * s / pivot))}
	}
	return Color{Red: int(math.Round(255 * (100 - s) / (100 - pivot))), Green: 255}
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
