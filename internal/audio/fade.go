package audio

// LinearFade returns the gain at pos for a fade-out that starts at full level
// at start and reaches silence at end. Positions are in samples.
func LinearFade(pos, start, end int64) float64 {
	if pos <= start {
		return 1
	}
	if pos >= end || end <= start {
		return 0
	}
	return float64(end-pos) / float64(end-start)
}

// FloatToPCM converts mixed stereo float samples into interleaved int16,
// clipping to the int16 range. out must hold len(mix)*Channels samples.
func FloatToPCM(mix [][2]float64, out []int16) {
	for i, s := range mix {
		out[i*2] = clip16(s[0])
		out[i*2+1] = clip16(s[1])
	}
}

func clip16(v float64) int16 {
	scaled := v * 32767
	if scaled > 32767 {
		return 32767
	} else if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}
