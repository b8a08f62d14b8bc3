package ft2engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Layout offsets, per spec.md §4.1.
const (
	ptSignatureOffset = 1080
	ptHeaderLen       = 1084
	ptSongLenOffset   = 950
	ptOrderOffset     = 952
	ptNumSamples      = 31

	stHeaderLen     = 600
	stSongLenOffset = 470
	stOrderOffset   = 472
	stNumSamples    = 15

	bytesPerChannel   = 4
	maxOrderTableSize = 128
)

var proTrackerSignatures = map[string]TrackerFlavor{
	"M.K.": FlavorProTracker,
	"M!K!": FlavorProTracker,
	"M&K!": FlavorProTracker,
	"N.T.": FlavorNoiseTracker,
	"FLT4": FlavorProTracker,
	"4CHN": FlavorProTracker,
}

// ParseMOD decodes a ProTracker/Soundtracker 4-channel MOD file into a Song.
// Grounded on the teacher's NewMODSongFromBytes (mod.go) and generalized to
// also recognize the 15-sample Soundtracker layout (spec.md §4.1).
func ParseMOD(buf []byte) (*Song, error) {
	sig, isPT := detectSignature(buf)

	numSamples := ptNumSamples
	headerLen := ptHeaderLen
	songLenOffset := ptSongLenOffset
	orderOffset := ptOrderOffset
	flavor := FlavorUnknown

	if isPT {
		flavor = proTrackerSignatures[sig]
	} else {
		if strings.HasSuffix(sig, "CHN") || strings.HasSuffix(sig, "CH") || sig == "FLT8" || sig == "OCTA" || sig == "CD81" {
			return nil, fmt.Errorf("%w: signature %q is not a 4-channel format", ErrUnsupportedFormat, sig)
		}
		numSamples = stNumSamples
		headerLen = stHeaderLen
		songLenOffset = stSongLenOffset
		orderOffset = stOrderOffset
		flavor = FlavorSoundtracker
		if !validSoundtrackerLayout(buf) {
			return nil, fmt.Errorf("%w: no recognized signature and buffer too short for a Soundtracker layout", ErrUnsupportedFormat)
		}
	}

	r := bytes.NewReader(buf)

	titleBuf := make([]byte, 20)
	if _, err := r.Read(titleBuf); err != nil {
		return nil, fmt.Errorf("%w: reading title: %v", ErrUnsupportedFormat, err)
	}
	title := strings.TrimRight(strings.TrimRight(string(titleBuf), "\x00"), " ")

	samples := make([]Sample, numSamples)
	for i := 0; i < numSamples; i++ {
		s, err := readSampleInfo(r)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrUnsupportedFormat, i, err)
		}
		samples[i] = *s
	}

	if songLenOffset >= len(buf) {
		return nil, fmt.Errorf("%w: song length offset past end of buffer", ErrUnsupportedFormat)
	}
	songLen := int(buf[songLenOffset])
	if songLen == 0 || songLen > maxOrderTableSize {
		return nil, fmt.Errorf("%w: invalid song length %d", ErrUnsupportedFormat, songLen)
	}
	if orderOffset+maxOrderTableSize > len(buf) {
		return nil, fmt.Errorf("%w: order table past end of buffer", ErrUnsupportedFormat)
	}
	orderTable := buf[orderOffset : orderOffset+maxOrderTableSize]
	sequence := make([]byte, songLen)
	copy(sequence, orderTable[:songLen])

	// Every signature this engine recognizes, and the Soundtracker layout,
	// is a fixed 4-channel format.
	const channels = 4

	numPatterns := 0
	for _, p := range orderTable {
		if int(p) > numPatterns {
			numPatterns = int(p)
		}
	}
	numPatterns++

	patternDataStart := headerLen
	patternBytes := RowsPerPattern * channels * bytesPerChannel
	needed := patternDataStart + numPatterns*patternBytes
	if needed > len(buf) {
		return nil, fmt.Errorf("%w: pattern data (%d bytes) extends past end of buffer (%d bytes)", ErrUnsupportedFormat, needed, len(buf))
	}

	patterns := make([]*Pattern, numPatterns)
	cursor := patternDataStart
	for i := 0; i < numPatterns; i++ {
		pat := NewPattern(channels)
		for cell := 0; cell < RowsPerPattern*channels; cell++ {
			b := buf[cursor : cursor+4]
			pat.Cells[cell] = cellFromMODBytes(b)
			cursor += 4
		}
		patterns[i] = pat
	}

	// Sample PCM immediately follows pattern data, in sample-index order.
	for i := range samples {
		n := len(samples[i].Data)
		avail := len(buf) - cursor
		if avail < 0 {
			avail = 0
		}
		if n > avail {
			n = avail
		}
		data := make([]int8, len(samples[i].Data))
		for j := 0; j < n; j++ {
			data[j] = int8(buf[cursor+j])
		}
		samples[i].Data = data
		cursor += len(samples[i].Data)
		if n < len(samples[i].Data) {
			// ran out of bytes; remaining frames stay zeroed (silence)
			cursor = len(buf)
		}
	}

	return &Song{
		Title:        title,
		Channels:     channels,
		Sequence:     sequence,
		Patterns:     patterns,
		Samples:      samples,
		Signature:    sig,
		Flavor:       flavor,
		InitialTempo: 125,
		InitialSpeed: 6,
	}, nil
}

// detectSignature inspects bytes 1080..1083 and reports whether a
// recognized ProTracker/NoiseTracker signature is present.
func detectSignature(buf []byte) (string, bool) {
	if len(buf) < ptSignatureOffset+4 {
		return "", false
	}
	sig := string(buf[ptSignatureOffset : ptSignatureOffset+4])
	if _, ok := proTrackerSignatures[sig]; ok {
		return sig, true
	}
	return sig, false
}

// validSoundtrackerLayout is a best-effort detector (spec.md §9's first Open
// Question): it only confirms there's room for the fixed-size 15-sample
// header plus an order table. It deliberately does not try to disambiguate
// Soundtracker from a truncated/corrupt ProTracker file any further than
// that — ambiguous input should fail rather than be guessed at.
func validSoundtrackerLayout(buf []byte) bool {
	return len(buf) >= stHeaderLen
}

func readSampleInfo(r *bytes.Reader) (*Sample, error) {
	raw := struct {
		Name      [22]byte
		Length    uint16
		FineTune  uint8
		Volume    uint8
		LoopStart uint16
		LoopLen   uint16
	}{}
	if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
		return nil, err
	}

	name := strings.TrimRight(strings.TrimRight(string(raw.Name[:]), "\x00"), " ")
	fineTune := int(raw.FineTune&0x7) - int(raw.FineTune&0x8)

	s := &Sample{
		Name:          name,
		Data:          make([]int8, int(raw.Length)*2),
		FineTune:      fineTune,
		DefaultVolume: clampInt(int(raw.Volume), 0, 64),
		LoopStart:     int(raw.LoopStart) * 2,
		LoopLength:    int(raw.LoopLen) * 2,
	}
	return s, nil
}

// cellFromMODBytes decodes the 4-byte packed cell format described in
// spec.md §4.1.
func cellFromMODBytes(b []byte) PatternCell {
	sampleHigh := b[0] & 0xF0
	sampleLow := (b[2] & 0xF0) >> 4
	period := (uint16(b[0]&0x0F) << 8) | uint16(b[1])

	return PatternCell{
		Period:       period,
		SampleNumber: sampleHigh | sampleLow,
		EffectCmd:    b[2] & 0x0F,
		EffectParam:  b[3],
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
