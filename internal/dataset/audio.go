package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// AudioInfo is what prep needs from an audio file header.
type AudioInfo struct {
	SampleRate int
	Channels   int
	Samples    int64
}

// Duration returns the length of the audio in seconds.
func (a AudioInfo) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(a.Samples) / float64(a.SampleRate)
}

// ReadAudioInfo reads the header of a wav file, or the .rec sidecar of a cbin
// file.
func ReadAudioInfo(path, format string) (AudioInfo, error) {
	switch format {
	case "wav":
		return readWAVInfo(path)
	case "cbin":
		return readCbinInfo(path)
	default:
		return AudioInfo{}, fmt.Errorf("audio format %q is not supported", format)
	}
}

var errNotWAV = errors.New("not a RIFF/WAVE file")

func readWAVInfo(path string) (AudioInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return AudioInfo{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return AudioInfo{}, fmt.Errorf("read wav %s: %w", path, errNotWAV)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return AudioInfo{}, fmt.Errorf("read wav %s: %w", path, errNotWAV)
	}

	var (
		info          AudioInfo
		bitsPerSample int
		haveFormat    bool
	)
	for {
		var header [8]byte
		if _, err := io.ReadFull(f, header[:]); err != nil {
			return AudioInfo{}, fmt.Errorf("read wav %s: no data chunk", path)
		}
		id := string(header[0:4])
		size := int64(binary.LittleEndian.Uint32(header[4:8]))
		switch id {
		case "fmt ":
			if size < 16 {
				return AudioInfo{}, fmt.Errorf("read wav %s: fmt chunk too short", path)
			}
			chunk := make([]byte, size)
			if _, err := io.ReadFull(f, chunk); err != nil {
				return AudioInfo{}, fmt.Errorf("read wav %s: %w", path, err)
			}
			info.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(chunk[14:16]))
			haveFormat = true
			if size%2 == 1 {
				if _, err := f.Seek(1, io.SeekCurrent); err != nil {
					return AudioInfo{}, fmt.Errorf("read wav %s: %w", path, err)
				}
			}
		case "data":
			if !haveFormat {
				return AudioInfo{}, fmt.Errorf("read wav %s: data chunk before fmt chunk", path)
			}
			frameSize := int64(info.Channels * bitsPerSample / 8)
			if frameSize <= 0 || info.SampleRate <= 0 {
				return AudioInfo{}, fmt.Errorf("read wav %s: invalid format (channels=%d bits=%d rate=%d)",
					path, info.Channels, bitsPerSample, info.SampleRate)
			}
			info.Samples = size / frameSize
			return info, nil
		default:
			if _, err := f.Seek(size+size%2, io.SeekCurrent); err != nil {
				return AudioInfo{}, fmt.Errorf("read wav %s: %w", path, err)
			}
		}
	}
}

// cbin files are headerless big-endian int16 samples; the sample rate and
// channel count live in a .rec file next to them.
func readCbinInfo(path string) (AudioInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return AudioInfo{}, fmt.Errorf("stat cbin: %w", err)
	}
	recPath := strings.TrimSuffix(path, ".cbin") + ".rec"
	rate, channels, err := readRec(recPath)
	if err != nil {
		return AudioInfo{}, err
	}
	return AudioInfo{
		SampleRate: rate,
		Channels:   channels,
		Samples:    stat.Size() / 2 / int64(channels),
	}, nil
}

func readRec(path string) (rate, channels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open rec file: %w", err)
	}
	defer f.Close()

	channels = 1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case key == "ADFREQ":
			if rate, err = strconv.Atoi(value); err != nil {
				return 0, 0, fmt.Errorf("rec file %s: ADFREQ %q: %w", path, value, err)
			}
		case strings.HasPrefix(key, "Chans"):
			if channels, err = strconv.Atoi(value); err != nil {
				return 0, 0, fmt.Errorf("rec file %s: Chans %q: %w", path, value, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("read rec file: %w", err)
	}
	if rate <= 0 {
		return 0, 0, fmt.Errorf("rec file %s: no ADFREQ sample rate", path)
	}
	if channels <= 0 {
		return 0, 0, fmt.Errorf("rec file %s: invalid channel count %d", path, channels)
	}
	return rate, channels, nil
}
