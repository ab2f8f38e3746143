package audio

import (
	"encoding/base64"
)

// Package audio provides audio format conversion functions

// FrameSize is 200ms of 8 kHz mu-law, the chunk size sent per media event.
const FrameSize = 1600

// ConvertPCM24kHzToMuLaw8kHz turns 24 kHz 16-bit little-endian PCM into 8 kHz mu-law.
func ConvertPCM24kHzToMuLaw8kHz(pcm24k []byte) []byte {
	// First downsample from 24kHz to 8kHz (factor of 3)
	pcm8k := downsamplePCM(pcm24k, 3)

	// Then convert to mulaw
	mulaw := make([]byte, len(pcm8k)/2)
	for i := 0; i < len(pcm8k)-1; i += 2 {
		// Get 16-bit PCM sample (little-endian)
		sample := int16(pcm8k[i]) | int16(pcm8k[i+1])<<8
		mulaw[i/2] = linearToMulaw(sample)
	}

	return mulaw
}

// Frames splits audio into chunks of at most size bytes. The chunks share the input's backing array.
func Frames(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, data[start:end])
	}
	return frames
}

func Base64ToBytes(base64String string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64String)
}

func BytesToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func mulawToLinear(mulawByte byte) int16 {
	const BIAS = 0x84

	// Invert all bits
	mulawByte = ^mulawByte

	// Extract sign, exponent, and mantissa
	sign := mulawByte & 0x80
	exponent := (mulawByte >> 4) & 0x07
	mantissa := mulawByte & 0x0F

	// Compute sample
	sample := int16(mantissa<<3 | 0x84)
	sample <<= exponent
	sample -= BIAS

	if sign != 0 {
		return -sample
	}
	return sample
}

func linearToMulaw(sample int16) byte {
	const BIAS = 0x84
	const CLIP = 32635

	sign := uint8(0)
	if sample < 0 {
		sign = 0x80
		if sample < -CLIP {
			sample = -CLIP
		}
		sample = -sample
	}

	if sample > CLIP {
		sample = CLIP
	}

	sample += BIAS

	// Segment is the position of the most significant bit above bit 7
	var leading uint8
	for mask := int16(0x4000); mask != 0 && (sample&mask) == 0; mask >>= 1 {
		leading++
	}
	exponent := 7 - leading

	mantissa := uint8((sample >> (exponent + 3)) & 0x0F)

	return ^(sign | (exponent << 4) | mantissa)
}

func downsamplePCM(pcm []byte, factor int) []byte {
	// Simple downsampling - take every Nth sample
	samples := len(pcm) / 2 // 16-bit samples
	downsampled := make([]byte, (samples/factor)*2)

	j := 0
	for i := 0; i < len(pcm)-1; i += 2 * factor {
		if j < len(downsampled)-1 {
			downsampled[j] = pcm[i]
			downsampled[j+1] = pcm[i+1]
			j += 2
		}
	}

	return downsampled[:j]
}
