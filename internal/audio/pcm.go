package audio

// Downmix averages interleaved multi-channel PCM-16 frames into mono.
// Returns the input unchanged when it is already mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// Downsample decimates mono PCM-16 samples from one rate to another by an
// integer factor, averaging each window to avoid aliasing the worst way.
// Returns the input unchanged when the source rate is not at least twice
// the target, along with the effective output rate.
func Downsample(samples []int16, fromRate, toRate int) ([]int16, int) {
	if fromRate <= 0 || toRate <= 0 || fromRate < toRate*2 {
		return samples, fromRate
	}
	factor := fromRate / toRate
	outRate := fromRate / factor

	out := make([]int16, 0, len(samples)/factor+1)
	for i := 0; i+factor <= len(samples); i += factor {
		sum := 0
		for j := 0; j < factor; j++ {
			sum += int(samples[i+j])
		}
		out = append(out, int16(sum/factor))
	}
	return out, outRate
}
