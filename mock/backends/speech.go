package main

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/nodegrid/inference-gateway/internal/api"
)

func speechMux(latency time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(latency)

		var req api.SpeechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		format := "wav"
		if req.Format != nil {
			format = *req.Format
		}
		voice := "default"
		if req.Voice != nil {
			voice = *req.Voice
		}

		slog.Info("speech request",
			slog.Int("input_chars", len(req.Input)),
			slog.String("voice", voice),
			slog.String("format", format),
		)

		if format != "wav" {
			http.Error(w, "Unsupported format; only 'wav' is implemented", http.StatusBadRequest)
			return
		}

		// A tone regardless of input text: the point is the wire contract,
		// not synthesis quality.
		wav := sineWAV(440.0, time.Second)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	})
	return mux
}

// sineWAV renders a mono 16-bit PCM WAV holding a sine tone.
func sineWAV(freqHz float64, d time.Duration) []byte {
	const sampleRate = 44100
	numSamples := int(sampleRate * d.Seconds())

	data := make([]byte, 0, numSamples*2)
	for n := 0; n < numSamples; n++ {
		t := float64(n) / sampleRate
		sample := math.Sin(2 * math.Pi * freqHz * t)
		v := int16(sample * math.MaxInt16)
		data = binary.LittleEndian.AppendUint16(data, uint16(v))
	}

	subchunk2Size := uint32(len(data))
	chunkSize := 36 + subchunk2Size

	wav := make([]byte, 0, 44+len(data))
	wav = append(wav, "RIFF"...)
	wav = binary.LittleEndian.AppendUint32(wav, chunkSize)
	wav = append(wav, "WAVE"...)

	// fmt subchunk: PCM, mono, 16-bit.
	wav = append(wav, "fmt "...)
	wav = binary.LittleEndian.AppendUint32(wav, 16)
	wav = binary.LittleEndian.AppendUint16(wav, 1) // PCM
	wav = binary.LittleEndian.AppendUint16(wav, 1) // mono
	wav = binary.LittleEndian.AppendUint32(wav, sampleRate)
	wav = binary.LittleEndian.AppendUint32(wav, sampleRate*2) // byte rate
	wav = binary.LittleEndian.AppendUint16(wav, 2)            // block align
	wav = binary.LittleEndian.AppendUint16(wav, 16)           // bits per sample

	wav = append(wav, "data"...)
	wav = binary.LittleEndian.AppendUint32(wav, subchunk2Size)
	wav = append(wav, data...)

	return wav
}
