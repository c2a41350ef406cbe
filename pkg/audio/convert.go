package audio

// Convert returns clip converted to the target format: resampled first (so
// that stereo material destined for a mono device is only resampled once it is
// cheap to do so), then remixed. Unsupported channel layouts are passed
// through unchanged. A clip already in the target format is returned as-is.
func Convert(clip Clip, target Format) Clip {
	if !target.Valid() || !clip.Format.Valid() || clip.Format == target {
		return clip
	}
	pcm := clip.PCM
	if clip.Format.SampleRate != target.SampleRate {
		pcm = Resample16(pcm, clip.Format.Channels, clip.Format.SampleRate, target.SampleRate)
	}
	channels := clip.Format.Channels
	switch {
	case channels == 1 && target.Channels == 2:
		pcm, channels = MonoToStereo(pcm), 2
	case channels == 2 && target.Channels == 1:
		pcm, channels = StereoToMono(pcm), 1
	}
	return Clip{PCM: pcm, Format: Format{SampleRate: target.SampleRate, Channels: channels}}
}

// Resample16 resamples interleaved int16 PCM with the given channel count from
// srcRate to dstRate using linear interpolation per channel.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := 2 * channels
	srcFrames := len(pcm) / frameBytes
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := sample16(pcm, idx*frameBytes+ch*2)
			s1 := sample16(pcm, next*frameBytes+ch*2)
			putSample16(out, i*frameBytes+ch*2, int32(float64(s0)*(1-frac)+float64(s1)*frac))
		}
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		copy(out[i*2:], pcm[i:i+2])
		copy(out[i*2+2:], pcm[i:i+2])
	}
	return out
}

// StereoToMono averages each L+R pair into one sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sample16(pcm, i*4))
		r := int32(sample16(pcm, i*4+2))
		putSample16(out, i*2, (l+r)/2)
	}
	return out
}

// ChangeRate changes playback speed by rate (2.0 = twice as fast) without
// altering the clip's nominal format: the PCM is resampled as if it had been
// recorded at SampleRate*rate.
func ChangeRate(clip Clip, rate float64) Clip {
	if rate <= 0 || rate == 1 || !clip.Format.Valid() {
		return clip
	}
	src := int(float64(clip.Format.SampleRate) * rate)
	return Clip{
		PCM:    Resample16(clip.PCM, clip.Format.Channels, src, clip.Format.SampleRate),
		Format: clip.Format,
	}
}

func sample16(pcm []byte, off int) int16 {
	return int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
}

func putSample16(pcm []byte, off int, v int32) {
	v = max(-32768, min(32767, v))
	pcm[off] = byte(v)
	pcm[off+1] = byte(v >> 8)
}
