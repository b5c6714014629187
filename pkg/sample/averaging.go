package sample

// Average replaces every window consecutive points by their mean time and
// value. A trailing partial window is averaged over what it holds. A window
// of 1 or less copies the input.
func Average(dst []Point, src []Point, window int) []Point {
	if window <= 1 {
		return Downsample(dst, src, 0)
	}

	n := (len(src) + window - 1) / window
	if cap(dst) >= n {
		dst = dst[:0]
	} else {
		dst = make([]Point, 0, n)
	}

	for start := 0; start < len(src); start += window {
		end := min(start+window, len(src))
		dst = append(dst, mean(src[start:end]))
	}
	return dst
}

func mean(points []Point) Point {
	var sumT, sumV float64
	for _, p := range points {
		sumT += p.T
		sumV += p.V
	}
	n := float64(len(points))
	return Point{T: sumT / n, V: sumV / n}
}
