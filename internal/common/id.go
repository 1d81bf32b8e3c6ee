package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewWorkerID generates a unique worker identity with the "worker-" prefix.
// Format: worker-<8 hex chars>
func NewWorkerID() string {
	id := uuid.New().String()
	return "worker-" + strings.SplitN(id, "-", 2)[0]
}

// NewRecordID generates a unique key for locally persisted records
// Format: rec_<uuid>
func NewRecordID() string {
	return "rec_" + uuid.New().String()
}
