package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

// MockSpeechProvider renders silent WAV audio sized to the text. It stands in
// for real providers in development when no speech endpoint is configured.
type MockSpeechProvider struct {
	name string
}

func NewMockSpeechProvider(name string) *MockSpeechProvider {
	if name == "" {
		name = "mock"
	}
	return &MockSpeechProvider{name: name}
}

func (m *MockSpeechProvider) Name() string {
	return m.name
}

func (m *MockSpeechProvider) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("mock speech: empty text")
	}
	// Roughly 15 characters per second of speech at 8 kHz mono.
	seconds := len(text)/15 + 1
	return &Audio{Data: silentWAV(8000, seconds), Format: "wav"}, nil
}

func silentWAV(sampleRate, seconds int) []byte {
	dataLen := sampleRate * seconds * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
