package chunk

import "testing"

func TestKeyCompare(t *testing.T) {
	tests := []struct {
		a, b Key
		want int
	}{
		{Key{1}, Key{1}, 0},
		{Key{1}, Key{2}, -1},
		{Key{2}, Key{1}, 1},
		{Key{1}, Key{1, 0}, -1},
		{Key{1, 0}, Key{1}, 1},
		{Key{1, 2, 3}, Key{1, 2, 3}, 0},
		{Key{1, 2}, Key{1, 3}, -1},
		{Key{-1, 5}, Key{0}, -1},
		{nil, Key{0}, -1},
		{nil, nil, 0},
	}

	for _, tt := range tests {
		got := tt.a.Compare(tt.b)
		norm := 0
		if got < 0 {
			norm = -1
		} else if got > 0 {
			norm = 1
		}
		if norm != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestKeyHasPrefix(t *testing.T) {
	tests := []struct {
		key, prefix Key
		want        bool
	}{
		{Key{1, 2, 3}, Key{1}, true},
		{Key{1, 2, 3}, Key{1, 2}, true},
		{Key{1, 2, 3}, Key{1, 2, 3}, true},
		{Key{1, 2, 3}, Key{1, 2, 3, 4}, false},
		{Key{1, 2, 3}, Key{2}, false},
		{Key{12}, Key{1}, false},
		{Key{1, 2, 3}, nil, true},
	}

	for _, tt := range tests {
		if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%v, %v) = %v, want %v", tt.key, tt.prefix, got, tt.want)
		}
	}
}

func TestAnonymousKeys(t *testing.T) {
	k := Anonymous(7)
	if !k.IsAnonymous() {
		t.Errorf("expected %v to be anonymous", k)
	}
	if !k.Equal(Key{-1, 7}) {
		t.Errorf("expected {-1 7}, got %v", k)
	}
	if (Key{3, 1}).IsAnonymous() {
		t.Error("catalog key reported anonymous")
	}
}

func TestKeyString(t *testing.T) {
	if got := (Key{1, 4, 2}).String(); got != "1_4_2" {
		t.Errorf("expected 1_4_2, got %q", got)
	}
	if got := (Key{-1, 9}).String(); got != "-1_9" {
		t.Errorf("expected -1_9, got %q", got)
	}
	if got := (Key{}).String(); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestKeyClone(t *testing.T) {
	orig := Key{1, 2}
	cp := orig.Clone()
	cp[0] = 99
	if orig[0] != 1 {
		t.Error("Clone did not copy the underlying array")
	}
}
