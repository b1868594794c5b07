package utils

import (
	"context"
	"math"
	"strings"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30/1", 30, false},
		{"30000/1001", 29.97002997, false},
		{"25", 25, false},
		{" 60/1 ", 60, false},
		{"0/0", 0, true},
		{"abc", 0, true},
		{"x/1", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseFrameRate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFrameRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewFFmpegRawDecoder(t *testing.T) {
	ctx := context.Background()

	// Camera device: input options must come before -i
	cmd := NewFFmpegRawDecoder(ctx, DecoderOptions{Input: "/dev/video0", Format: "v4l2", Width: 1280, Height: 720, FPS: 30})
	args := strings.Join(cmd.Args, " ")
	if !strings.Contains(args, "-f v4l2 -framerate 30 -video_size 1280x720 -i /dev/video0") {
		t.Errorf("unexpected device args: %s", args)
	}
	if !strings.HasSuffix(args, "-f rawvideo -pix_fmt rgba -") {
		t.Errorf("decoder must emit raw RGBA on stdout, got: %s", args)
	}

	// File input: scaled with a filter instead
	cmd = NewFFmpegRawDecoder(ctx, DecoderOptions{Input: "in.mp4", Width: 640, Height: 360, Realtime: true, Loop: true})
	args = strings.Join(cmd.Args, " ")
	if !strings.Contains(args, "-re -stream_loop -1 -i in.mp4 -vf scale=640:360") {
		t.Errorf("unexpected file args: %s", args)
	}
}

func TestNewFFmpegEncoder(t *testing.T) {
	cmd := NewFFmpegEncoder(context.Background(), "out.mp4", 29.97, 1280, 720)
	args := strings.Join(cmd.Args, " ")
	for _, want := range []string{"-s 1280x720", "-r 29.97", "-i -", "out.mp4"} {
		if !strings.Contains(args, want) {
			t.Errorf("encoder args missing %q: %s", want, args)
		}
	}
}

func TestNewSafeCommandCapturesStderr(t *testing.T) {
	s := NewSafeCommand(context.Background(), "sh", "-c", "echo boom 1>&2; exit 3")
	if err := s.Run(); err == nil {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(s.Stderr.String(), "boom") {
		t.Errorf("stderr not captured, got %q", s.Stderr.String())
	}
}
