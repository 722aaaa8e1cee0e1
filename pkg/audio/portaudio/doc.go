// Package portaudio captures microphone audio through PortAudio.
//
// The real implementation needs the PortAudio C library and is only compiled
// with the "portaudio" build tag:
//
//	go build -tags portaudio ./cmd/echocrafter
//
// Without the tag a stub is compiled whose Start always fails, so the rest of
// the binary (WAV replay, tests) builds without cgo.
package portaudio
