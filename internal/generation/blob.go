package generation

import (
	"context"
	"fmt"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// BlobStore abstracts where artifact content lives. Executors write their
// output through it and derived executors read their source text through it.
type BlobStore interface {
	// Write persists data under key and returns the canonical storage key.
	Write(ctx context.Context, key string, data []byte) (string, error)
	// Read returns the bytes stored under key.
	Read(ctx context.Context, key string) ([]byte, error)
}

// extensions maps each task type to the file extension of its output.
var extensions = map[domain.TaskType]string{
	domain.TaskTypeText:  "md",
	domain.TaskTypePDF:   "pdf",
	domain.TaskTypeAudio: "mp3",
	domain.TaskTypeSong:  "mp3",
}

// storageKey builds the blob key for a task's output. Keys are grouped by job
// and artifact type, with the sequence number keeping listings in document
// order.
func storageKey(task *domain.Task, payload domain.TaskPayload) (string, error) {
	artifactType, err := domain.ArtifactTypeForTask(task.Type)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%03d-%s", task.Sequence, payload.Role)
	if payload.System != "" {
		name += "-" + string(payload.System)
	}
	return fmt.Sprintf("jobs/%s/%s/%s.%s", task.JobID, artifactType, name, extensions[task.Type]), nil
}
