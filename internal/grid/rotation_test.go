package grid

import "testing"

func TestRotationFromDegrees(t *testing.T) {
	tests := []struct {
		deg     int
		want    Rotation
		wantErr bool
	}{
		{0, Rotate0, false},
		{90, Rotate90, false},
		{180, Rotate180, false},
		{270, Rotate270, false},
		{45, 0, true},
		{360, 0, true},
		{-90, 0, true},
	}
	for _, tt := range tests {
		got, err := RotationFromDegrees(tt.deg)
		if (err != nil) != tt.wantErr {
			t.Errorf("RotationFromDegrees(%d) error = %v, wantErr %v", tt.deg, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("RotationFromDegrees(%d) = %v, want %v", tt.deg, got, tt.want)
		}
		if !tt.wantErr && got.Degrees() != tt.deg {
			t.Errorf("Degrees() = %d, want %d", got.Degrees(), tt.deg)
		}
	}
}

func TestRotation_RoundTrip(t *testing.T) {
	const cols, rows = 16, 8

	for r := Rotate0; r <= Rotate270; r++ {
		lc, lr := cols, rows
		if r.swapsAxes() {
			lc, lr = rows, cols
		}
		seen := make(map[[2]int]bool)
		for x := 0; x < lc; x++ {
			for y := 0; y < lr; y++ {
				px, py := r.toPhysical(x, y, cols, rows)
				if px < 0 || px >= cols || py < 0 || py >= rows {
					t.Fatalf("rotation %d: (%d,%d) -> (%d,%d) out of bounds", r.Degrees(), x, y, px, py)
				}
				if seen[[2]int{px, py}] {
					t.Fatalf("rotation %d: physical (%d,%d) hit twice", r.Degrees(), px, py)
				}
				seen[[2]int{px, py}] = true

				gx, gy := r.toLogical(px, py, cols, rows)
				if gx != x || gy != y {
					t.Fatalf("rotation %d: (%d,%d) -> (%d,%d) -> (%d,%d)", r.Degrees(), x, y, px, py, gx, gy)
				}
			}
		}
	}
}

func TestRotation_Corners(t *testing.T) {
	const cols, rows = 16, 8

	tests := []struct {
		r      Rotation
		x, y   int
		px, py int
	}{
		{Rotate0, 0, 0, 0, 0},
		{Rotate90, 0, 0, 15, 0},
		{Rotate180, 0, 0, 15, 7},
		{Rotate270, 0, 0, 0, 7},
	}
	for _, tt := range tests {
		px, py := tt.r.toPhysical(tt.x, tt.y, cols, rows)
		if px != tt.px || py != tt.py {
			t.Errorf("rotation %d: origin -> (%d,%d), want (%d,%d)", tt.r.Degrees(), px, py, tt.px, tt.py)
		}
	}
}
