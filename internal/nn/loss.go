package nn

// AccuracyThreshold splits sigmoid outputs into the two classes.
const AccuracyThreshold = 0.5

// weightedMSE returns the batch loss sum_b w_b·mean_k (y-t)² / B and writes
// its gradient with respect to the outputs into grad. A nil weights slice
// weighs every sample as one.
func weightedMSE(out, truth [][]float64, weights []float64, grad [][]float64) float64 {
	if len(out) == 0 {
		return 0
	}
	batch := float64(len(out))
	loss := 0.0
	for b := range out {
		w := 1.0
		if weights != nil {
			w = weights[b]
		}
		k := float64(len(out[b]))
		sq := 0.0
		for i, y := range out[b] {
			d := y - truth[b][i]
			sq += d * d
			if grad != nil {
				grad[b][i] = 2 * w * d / (k * batch)
			}
		}
		loss += w * sq / k
	}
	return loss / batch
}

// binaryAccuracy is the fraction of outputs whose thresholded value equals the
// truth exactly. Soft truths such as 0.5 never match.
func binaryAccuracy(out, truth [][]float64) float64 {
	total, hits := 0, 0
	for b := range out {
		for i, y := range out[b] {
			pred := 0.0
			if y > AccuracyThreshold {
				pred = 1
			}
			if pred == truth[b][i] {
				hits++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
