package townmap

import "math"

// Home ring layout around the square. The live engine and the replay engine
// both place homes through this helper so reconstructed positions match the
// recorded run exactly.
const (
	layoutCenterX = 400
	layoutCenterY = 300
	layoutRadius  = 250
)

// HomeRing assigns coordinates to the given home names, evenly spaced on a
// circle around the town square. The caller supplies names in a deterministic
// order (roster order); index i always maps to the same angle.
func HomeRing(homes []string) map[string][2]int {
	out := make(map[string][2]int, len(homes))
	if len(homes) == 0 {
		return out
	}
	step := 2 * math.Pi / float64(len(homes))
	for i, name := range homes {
		angle := float64(i) * step
		x := layoutCenterX + int(layoutRadius*math.Cos(angle))
		y := layoutCenterY + int(layoutRadius*math.Sin(angle))
		out[name] = [2]int{x, y}
	}
	return out
}
