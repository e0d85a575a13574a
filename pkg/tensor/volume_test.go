package tensor

import (
	"errors"
	"testing"
)

func TestVolumeIndexing(t *testing.T) {
	v := NewVolume(2, 3, 4)
	v.Set(1, 2, 3, 7)
	if got := v.At(1, 2, 3); got != 7 {
		t.Errorf("At(1,2,3) = %v, want 7", got)
	}
	if got := v.Data[len(v.Data)-1]; got != 7 {
		t.Errorf("last element = %v, want 7", got)
	}
	if len(v.Channel(1)) != 12 {
		t.Errorf("channel length = %d, want 12", len(v.Channel(1)))
	}
}

func TestVolumeFromShape(t *testing.T) {
	if _, err := VolumeFrom(1, 2, 2, make([]float64, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestConcat(t *testing.T) {
	a := NewVolume(1, 2, 2)
	b := NewVolume(2, 2, 2)
	a.Set(0, 1, 1, 1)
	b.Set(1, 0, 0, 2)

	out, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if out.C != 3 {
		t.Fatalf("expected 3 channels, got %d", out.C)
	}
	if out.At(0, 1, 1) != 1 || out.At(2, 0, 0) != 2 {
		t.Errorf("unexpected concat contents: %v", out.Data)
	}

	if _, err := Concat(a, NewVolume(1, 3, 2)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := Concat(); !errors.Is(err, ErrEmptyVolume) {
		t.Errorf("expected ErrEmptyVolume, got %v", err)
	}
}

func TestPixelsRoundTrip(t *testing.T) {
	v := NewVolume(3, 2, 2)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	m := v.Pixels()
	if got := m.At(1, 2); got != v.At(2, 0, 1) {
		t.Errorf("pixel (1, c2) = %v, want %v", got, v.At(2, 0, 1))
	}
	back, err := FromPixels(m, 2, 2)
	if err != nil {
		t.Fatalf("FromPixels failed: %v", err)
	}
	for i := range v.Data {
		if back.Data[i] != v.Data[i] {
			t.Fatalf("element %d: got %v, want %v", i, back.Data[i], v.Data[i])
		}
	}
}
