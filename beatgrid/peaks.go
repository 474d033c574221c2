package beatgrid

import "math"

// findPeaks returns the frame indexes of transients whose magnitude reaches
// tolerance times the global peak. After a threshold crossing the true
// maximum inside window frames is taken; the scan then skips minGap frames.
func findPeaks(x []float64, tolerance float64, minGap, window int) []int {
	var global float64
	for _, v := range x {
		if a := math.Abs(v); a > global {
			global = a
		}
	}
	if global == 0 {
		return nil
	}
	threshold := tolerance * global
	if minGap < 1 {
		minGap = 1
	}

	var peaks []int
	for i := 0; i < len(x); {
		if math.Abs(x[i]) < threshold {
			i++
			continue
		}
		best := i
		end := i + window
		if end > len(x) {
			end = len(x)
		}
		for j := i + 1; j < end; j++ {
			if math.Abs(x[j]) > math.Abs(x[best]) {
				best = j
			}
		}
		peaks = append(peaks, best)
		i = best + minGap
	}
	return peaks
}

type intervalCount struct {
	frames int
	count  int
}

// countIntervals tallies the spacing between each peak and up to neighbours
// following peaks, keeping first-seen order.
func countIntervals(peaks []int, neighbours int) []intervalCount {
	var counts []intervalCount
	index := make(map[int]int)
	for i, p := range peaks {
		for j := 1; j <= neighbours && i+j < len(peaks); j++ {
			d := peaks[i+j] - p
			if d <= 0 {
				continue
			}
			if k, ok := index[d]; ok {
				counts[k].count++
				continue
			}
			index[d] = len(counts)
			counts = append(counts, intervalCount{frames: d, count: 1})
		}
	}
	return counts
}

// foldTempo moves bpm into [min, max] by octaves.
func foldTempo(bpm, min, max float64) float64 {
	if bpm <= 0 || math.IsInf(bpm, 0) || math.IsNaN(bpm) {
		return 0
	}
	for bpm < min {
		bpm *= 2
	}
	for bpm > max {
		bpm /= 2
	}
	return bpm
}

type tempoCount struct {
	bpm   float64
	count int
}

// estimateTempo converts intervals to whole-BPM candidates folded into the
// canonical range and returns the most voted one. Ties go to the candidate
// seen first.
func estimateTempo(intervals []intervalCount, sampleRate, min, max float64) (float64, bool) {
	var tally []tempoCount
	index := make(map[float64]int)
	for _, ic := range intervals {
		bpm := math.Round(foldTempo(60/(float64(ic.frames)/sampleRate), min, max))
		if bpm <= 0 {
			continue
		}
		if k, ok := index[bpm]; ok {
			tally[k].count += ic.count
			continue
		}
		index[bpm] = len(tally)
		tally = append(tally, tempoCount{bpm: bpm, count: ic.count})
	}
	if len(tally) == 0 {
		return 0, false
	}

	best := tally[0]
	for _, tc := range tally[1:] {
		if tc.count > best.count {
			best = tc
		}
	}
	return best.bpm, true
}

// harmonySections returns the beatless regions between peaks: the lead-in,
// every gap longer than gap, and the tail. Regions shorter than minLen are
// noise and dropped.
func harmonySections(peaks []float64, duration, gap, minLen float64) []Section {
	var out []Section
	add := func(start, end float64) {
		if end-start >= minLen {
			out = append(out, Section{Start: start, End: end, Duration: end - start})
		}
	}

	if len(peaks) == 0 {
		return nil
	}
	if peaks[0] > 0 {
		add(0, peaks[0])
	}
	for i := 1; i < len(peaks); i++ {
		if peaks[i]-peaks[i-1] > gap {
			add(peaks[i-1], peaks[i])
		}
	}
	if last := peaks[len(peaks)-1]; duration > last {
		add(last, duration)
	}
	return out
}

// projectBeats lays the grid across the track, skipping beats that fall
// strictly inside a harmony section.
func projectBeats(first, interval, duration float64, harmony []Section) []float64 {
	if interval <= 0 {
		return nil
	}
	var beats []float64
	h := 0
	for k := 0; ; k++ {
		t := first + float64(k)*interval
		if t >= duration {
			break
		}
		for h < len(harmony) && harmony[h].End <= t {
			h++
		}
		if h < len(harmony) && t > harmony[h].Start && t < harmony[h].End {
			continue
		}
		beats = append(beats, t)
	}
	return beats
}
