package bike

// Gear ratio table for the simulated drivetrain. Gear indexes on the wire
// are 1-based; index 0 from a client is clamped up to 1.
var (
	chainringTeeth = []uint8{34, 42, 50}                     // front 1..3
	cassetteTeeth  = []uint8{28, 25, 22, 19, 17, 15, 13, 11} // rear 1..8
)

// MaxFrontGear and MaxRearGear are the valid upper gear indexes.
var (
	MaxFrontGear = uint8(len(chainringTeeth))
	MaxRearGear  = uint8(len(cassetteTeeth))
)

// GearRatio returns the drive ratio for a (front, rear) pair. Both
// indexes are clamped into the table before lookup.
func GearRatio(front, rear uint8) float64 {
	front = clampGear(front, MaxFrontGear)
	rear = clampGear(rear, MaxRearGear)
	return float64(chainringTeeth[front-1]) / float64(cassetteTeeth[rear-1])
}

func clampGear(g, max uint8) uint8 {
	if g < 1 {
		return 1
	}
	if g > max {
		return max
	}
	return g
}

// gearRatioBounds returns the easiest and hardest ratios in the table,
// used to map a ratio onto the resistance level range.
func gearRatioBounds() (min, max float64) {
	min = GearRatio(1, 1)
	max = GearRatio(MaxFrontGear, MaxRearGear)
	return min, max
}
