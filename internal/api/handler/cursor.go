package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// DecodeJobCursor parses an opaque page cursor. An empty cursor means the
// first page.
func DecodeJobCursor(cursorStr string) (*domain.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt, id int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}
	if _, err := fmt.Sscanf(decodedParts[1], "%d", &id); err != nil {
		return nil, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return &domain.JobCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ID:        id,
	}, nil
}

// EncodeJobCursor renders the cursor that resumes after job
func EncodeJobCursor(cursor *domain.JobCursor) string {
	cs := fmt.Sprintf("%d|%d", cursor.CreatedAt.UnixNano(), cursor.ID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
