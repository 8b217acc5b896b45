// ABOUTME: Tests for audio types
// ABOUTME: Tests sample conversion functions and frame accounting
package audio

import "testing"

func TestSampleFromInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected int32
	}{
		{"zero", 0, 0},
		{"positive", 100, 100 << 8},
		{"negative", -100, -100 << 8},
		{"max", 32767, 32767 << 8},
		{"min", -32768, -32768 << 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFromInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestRoundTrip16Bit(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 32767, -32768}

	for _, original := range samples {
		sample32 := SampleFromInt16(original)
		result := SampleToInt16(sample32)
		if result != original {
			t.Errorf("round-trip failed: %d -> %d -> %d", original, sample32, result)
		}
	}
}

func TestSampleFrom24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    [3]byte
		expected int32
	}{
		{"zero", [3]byte{0, 0, 0}, 0},
		{"positive", [3]byte{0x56, 0x34, 0x12}, 0x123456},
		{"negative", [3]byte{0x00, 0xFF, 0xFF}, -256},
		{"max positive", [3]byte{0xFF, 0xFF, 0x7F}, Max24Bit},
		{"max negative", [3]byte{0x00, 0x00, 0x80}, Min24Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFrom24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestFrameCount(t *testing.T) {
	f := Frame{
		Samples: make([]int32, 960*2),
		Format:  Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
	}
	if got := f.FrameCount(); got != 960 {
		t.Errorf("FrameCount() = %d, want 960", got)
	}

	empty := Frame{}
	if got := empty.FrameCount(); got != 0 {
		t.Errorf("FrameCount() on zero-value frame = %d, want 0", got)
	}
}

func TestBytesPerFrame(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
	if got := f.BytesPerFrame(); got != 4 {
		t.Errorf("BytesPerFrame() = %d, want 4", got)
	}
}
