package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestMockCamera_Playback(t *testing.T) {
	// Create test frames
	frame1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame1, &frame2}, false)
	defer cam.Close()

	// Read both frames
	f1, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f1.Close()

	f2, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f2.Close()

	// Third read should fail (no loop)
	if _, err := cam.ReadFrame(); err == nil {
		t.Error("expected error after all frames consumed")
	}

	if got := cam.Reads(); got != 3 {
		t.Errorf("Reads() = %d, want 3", got)
	}
}

func TestMockCamera_Loop(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	defer cam.Close()

	// Should loop indefinitely
	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockCamera_ErrorAndClose(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)

	boom := errors.New("boom")
	cam.SetError(boom)
	if _, err := cam.ReadFrame(); !errors.Is(err, boom) {
		t.Errorf("ReadFrame() error = %v, want %v", err, boom)
	}

	cam.SetError(nil)
	f, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() after clearing error = %v", err)
	}
	f.Close()

	cam.Close()
	cam.Close()
	if closed, n := cam.Closed(); !closed || n != 2 {
		t.Errorf("Closed() = %v, %d, want true, 2", closed, n)
	}
	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() after Close error = %v, want ErrCameraNotOpen", err)
	}
}
