package replay

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ooni/ovpndata/internal/model"
)

// acceptAll feeds ids to p and returns the verdicts.
func acceptAll(p Protector, ids ...model.PacketID) []bool {
	out := make([]bool, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.Accept(id))
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		wantWide bool
		wantErr  error
	}{
		{"default", SmallWindow, false, nil},
		{"large", LargeWindow, false, nil},
		{"odd size", 100, false, nil},
		{"wide", LargeWindow + 1, true, nil},
		{"widest", WideWindow, true, nil},
		{"too wide", WideWindow + 1, false, ErrWindowSize},
		{"zero", 0, false, ErrWindowSize},
		{"negative", -1, false, ErrWindowSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.size)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if _, wide := p.(*wideFilter); wide != tt.wantWide {
				t.Fatalf("New() wide = %v, want %v", wide, tt.wantWide)
			}
		})
	}
}

func TestWindow_Accept(t *testing.T) {
	tests := []struct {
		name string
		size int
		ids  []model.PacketID
		want []bool
	}{
		{
			name: "reordered traffic within a 64 window",
			size: 64,
			ids:  []model.PacketID{5, 3, 5, 6, 4, 1000},
			want: []bool{true, true, false, true, true, true},
		},
		{
			name: "old ids are unreachable after a long jump",
			size: 64,
			ids:  []model.PacketID{5, 1000, 3, 4, 6, 999},
			want: []bool{true, true, false, false, false, true},
		},
		{
			name: "first packet is always accepted",
			size: 64,
			ids:  []model.PacketID{0},
			want: []bool{true},
		},
		{
			name: "duplicate of the highest id",
			size: 64,
			ids:  []model.PacketID{1, 2, 2},
			want: []bool{true, true, false},
		},
		{
			name: "window floor for size 64",
			size: 64,
			ids:  []model.PacketID{100, 37, 36},
			want: []bool{true, true, false},
		},
		{
			name: "window floor for size 128",
			size: 128,
			ids:  []model.PacketID{200, 73, 72},
			want: []bool{true, true, false},
		},
		{
			name: "bits survive a shift across words",
			size: 128,
			ids:  []model.PacketID{10, 8, 80, 8, 9},
			want: []bool{true, true, true, false, true},
		},
		{
			name: "a shift equal to the window size clears everything",
			size: 64,
			ids:  []model.PacketID{10, 74, 10, 11},
			want: []bool{true, true, false, true},
		},
		{
			name: "the maximum packet id",
			size: 64,
			ids:  []model.PacketID{0xfffffffe, 0xffffffff, 0xfffffffe, 0xffffffff},
			want: []bool{true, true, false, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWindow(tt.size)
			if err != nil {
				t.Fatal(err)
			}
			got := acceptAll(w, tt.ids...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestWindow_SequentialTraffic(t *testing.T) {
	w, _ := NewWindow(SmallWindow)
	for id := model.PacketID(1); id < 10000; id++ {
		if !w.Accept(id) {
			t.Fatalf("packet %d should be accepted", id)
		}
	}
	for id := model.PacketID(9999 - SmallWindow); id < 10000; id++ {
		if w.Accept(id) {
			t.Fatalf("replayed packet %d should be rejected", id)
		}
	}
}

func TestWindow_Reset(t *testing.T) {
	w, _ := NewWindow(SmallWindow)
	acceptAll(w, 1, 2, 3)
	w.Reset()
	if !w.Accept(1) {
		t.Fatal("expected a fresh window after Reset")
	}
	if w.Size() != SmallWindow {
		t.Fatalf("unexpected size %d", w.Size())
	}
}

func TestWideFilter_Accept(t *testing.T) {
	p, err := New(1024)
	if err != nil {
		t.Fatal(err)
	}
	got := acceptAll(p, 5, 3, 5, 6, 4, 1000, 3, 900)
	want := []bool{true, true, false, true, true, true, false, true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	if p.Accept(20000) != true || p.Accept(20000-WideWindow-1) != false {
		t.Fatal("unexpected verdict around the wide window floor")
	}
	p.Reset()
	if !p.Accept(3) {
		t.Fatal("expected a fresh filter after Reset")
	}
}
