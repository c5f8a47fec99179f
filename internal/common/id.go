package common

import (
	"time"

	"github.com/google/uuid"
)

// NewJobID generates a job identifier. The timestamp prefix keeps ids
// sortable by creation time; the uuid suffix keeps them unique when
// two jobs are created within the same second.
// Format: J20060102_150405_<uuid8>
func NewJobID() string {
	return "J" + time.Now().Format("20060102_150405") + "_" + uuid.New().String()[:8]
}
