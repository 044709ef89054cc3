package routing

import "testing"

func TestMatchesPrefix(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/api/listings", "/api/listings", true},
		{"/api/listings/42", "/api/listings", true},
		{"/api/listingsx", "/api/listings", false},
		{"/api/listings", "/api/bids", false},
		{"/api/bids/7/history", "/api/bids", true},
		{"/api", "/api/", false},
		{"/api/", "/api/", true},
		{"/api/anything", "/api/", true},
		{"/anything", "", false},
		{"/", "/", true},
	}

	for _, tt := range tests {
		if got := MatchesPrefix(tt.path, tt.prefix); got != tt.want {
			t.Errorf("MatchesPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}
