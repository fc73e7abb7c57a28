package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		paths   []string
		want    string
		wantErr bool
	}{
		{
			name:  "simple join",
			base:  "https://admin.example.com",
			paths: []string{"oauth", "callback"},
			want:  "https://admin.example.com/oauth/callback",
		},
		{
			name:  "base with path",
			base:  "https://example.com/admin",
			paths: []string{"oauth", "callback"},
			want:  "https://example.com/admin/oauth/callback",
		},
		{
			name:  "trailing slash preserved",
			base:  "https://example.com",
			paths: []string{"users/"},
			want:  "https://example.com/users/",
		},
		{
			name:  "empty paths",
			base:  "https://example.com",
			paths: []string{},
			want:  "https://example.com",
		},
		{
			name:  "base with trailing slash",
			base:  "http://localhost:8080/",
			paths: []string{"login"},
			want:  "http://localhost:8080/login",
		},
		{
			name:    "invalid base URL",
			base:    "://invalid",
			paths:   []string{"login"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/profile", "/profile"},
		{"/users?page=2", "/users?page=2"},
		{"profile", "/"},
		{"//evil.com/x", "/"},
		{`/\evil.com`, "/"},
		{"https://evil.com/", "/"},
		{"javascript:alert(1)", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, LocalPath(tt.raw, "/"))
		})
	}
}
