package homie

import "testing"

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"kitchen", true},
		{"kitchen-light", true},
		{"light2", true},
		{"2light", true},
		{"a", true},
		{"a-b-c", true},
		{"", false},
		{"-kitchen", false},
		{"kitchen-", false},
		{"-", false},
		{"Kitchen", false},
		{"kitchen_light", false},
		{"kitchen light", false},
		{"küche", false},
		{"$state", false},
		{"kitchen/light", false},
	}

	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
