package utils

import (
	"testing"
)

func TestContainsAny(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		expected bool
	}{
		{"Generation path", "/v1/generate-store", []string{"generate-store"}, true},
		{"Other path", "/v1/quota", []string{"generate-store"}, false},
		{"Case sensitive", "/V1/GENERATE-STORE", []string{"generate-store"}, false},
		{"Empty keywords", "/v1/generate-store", []string{}, false},
		{"Empty keyword ignored", "/v1/quota", []string{""}, false},
		{"Empty text", "", []string{"generate"}, false},
		{"Partial match", "/api/generate-store/preview", []string{"generate-store"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsAny(tt.text, tt.keywords); got != tt.expected {
				t.Errorf("ContainsAny(%q, %v) = %v, want %v", tt.text, tt.keywords, got, tt.expected)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Widgets", "acme-widgets"},
		{"shop.example.com", "shop-example-com"},
		{"  --Hello,  World!!  ", "hello-world"},
		{"Café 24", "café-24"},
		{"", ""},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
