package apitest

import (
	"math"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// EncodeWAV renders stereo samples as a 16-bit PCM wav file.
func EncodeWAV(samples [][2]float64, rate int) ([]byte, error) {
	f, err := os.CreateTemp("", "genie-*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	pos := 0
	src := beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, true
	})

	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, src, format); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Name())
}

// Tone is a sine at freq Hz lasting seconds, scaled by amp.
func Tone(freq, seconds, amp float64, rate int) [][2]float64 {
	n := int(seconds * float64(rate))
	out := make([][2]float64, n)
	for i := range out {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		out[i] = [2]float64{v, v}
	}
	return out
}
