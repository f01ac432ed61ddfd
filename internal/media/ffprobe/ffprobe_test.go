package ffprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video", Width: 1920, Height: 1080},
			{CodecType: "audio"},
			{CodecType: "audio"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
		},
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if w, h := result.VideoResolution(); w != 1920 || h != 1080 {
		t.Fatalf("unexpected resolution: %dx%d", w, h)
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{
			Duration: "bad",
			Size:     "-1",
		},
	}
	if result.DurationSeconds() != 0 {
		t.Fatalf("expected duration 0, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if w, h := result.VideoResolution(); w != 0 || h != 0 {
		t.Fatalf("expected zero resolution, got %dx%d", w, h)
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", "   "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestInspectParsesReport(t *testing.T) {
	setHelperCommand(t, "report")

	result, err := Inspect(context.Background(), "ffprobe", "/media/clip.mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 1 {
		t.Fatalf("unexpected stream counts: %+v", result.Streams)
	}
	if result.DurationSeconds() != 12.5 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if len(result.RawJSON()) == 0 {
		t.Fatal("expected raw payload to be retained")
	}
}

func TestInspectSurfacesToolFailure(t *testing.T) {
	setHelperCommand(t, "failure")

	if _, err := Inspect(context.Background(), "ffprobe", "/media/missing.mp4"); err == nil {
		t.Fatal("expected error when ffprobe exits nonzero")
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("FFPROBE_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("FFPROBE_HELPER_MODE") {
	case "report":
		fmt.Println(`{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":1280,"height":720},{"index":1,"codec_type":"audio","codec_name":"aac","channels":2}],"format":{"filename":"/media/clip.mp4","nb_streams":2,"duration":"12.5","size":"2048","format_name":"mov,mp4"}}`)
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "/media/missing.mp4: No such file or directory")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
