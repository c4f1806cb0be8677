package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// RMS returns the root-mean-square energy of a PCM16 buffer in sample units
// (0–32767). Buffers shorter than one sample report 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// EncodeWAV wraps raw PCM16 in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// WAVInfo describes the PCM payload located inside a WAV container.
type WAVInfo struct {
	DataOffset int
	SampleRate int
	Channels   int
}

// ParseWAV walks the RIFF chunks of wav and locates the "fmt " and "data"
// chunks. The fmt chunk size is honoured rather than assuming a fixed
// 44-byte header.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: not a RIFF/WAVE container")
	}

	info := WAVInfo{SampleRate: 22050, Channels: 1}
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			}
		case "data":
			info.DataOffset = offset + 8
			return info, nil
		}

		// RIFF chunks are word aligned.
		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data chunk not found")
}

// DecodeWAV returns the PCM payload of wav converted to mono at dstRate.
// A dstRate of 0 keeps the source rate.
func DecodeWAV(wav []byte, dstRate int) (Frame, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{
		Data:       wav[info.DataOffset:],
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}
	if dstRate == 0 {
		dstRate = info.SampleRate
	}
	conv := FormatConverter{Target: Format{SampleRate: dstRate, Channels: 1}}
	return conv.Convert(frame), nil
}
