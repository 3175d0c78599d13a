package audio

import (
	"encoding/binary"

	goaudio "github.com/go-audio/audio"
)

const (
	// WAVMimeType is the content type of every fragment the WAV recorder emits.
	WAVMimeType = "audio/wav"

	wavHeaderSize    = 44
	wavBitsPerSample = 16
	wavPCMFormat     = 1
	// wavStreamingSize marks RIFF and data sizes as unknown.
	wavStreamingSize = 0xFFFFFFFF
)

// streamingWAVHeader returns a 44-byte RIFF/WAVE header for S16LE PCM whose
// final length is unknown.
func streamingWAVHeader(format goaudio.Format) []byte {
	channels := uint16(format.NumChannels)
	sampleRate := uint32(format.SampleRate)
	blockAlign := channels * wavBitsPerSample / 8
	byteRate := sampleRate * uint32(blockAlign)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], wavStreamingSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavPCMFormat)
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], wavBitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], wavStreamingSize)
	return header
}

func frameSize(format goaudio.Format) int {
	return format.NumChannels * wavBitsPerSample / 8
}
