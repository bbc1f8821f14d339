package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func TestDecodeJobCursor(t *testing.T) {
	created := time.Date(2027, 10, 1, 9, 30, 0, 123, time.UTC)

	tests := []struct {
		name    string
		cursor  string
		want    *domain.JobCursor
		wantErr bool
	}{
		{name: "empty is first page", cursor: "", want: nil},
		{
			name:   "encoded cursor",
			cursor: EncodeJobCursor(&domain.JobCursor{CreatedAt: created, ID: 17}),
			want:   &domain.JobCursor{CreatedAt: created, ID: 17},
		},
		{name: "not base64", cursor: "%%", wantErr: true},
		{name: "missing id", cursor: base64.URLEncoding.EncodeToString([]byte("123")), wantErr: true},
		{name: "non-numeric id", cursor: base64.URLEncoding.EncodeToString([]byte("123|abc")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJobCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.True(t, tt.want.CreatedAt.Equal(got.CreatedAt))
			assert.Equal(t, tt.want.ID, got.ID)
		})
	}
}
