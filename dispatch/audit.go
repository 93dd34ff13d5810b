package dispatch

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/friendsofgo/errors"
)

// AuditLog writes one file per (job, task_name, outcome), appending the raw
// payload of every worker callback reported for it. It is the callback-side
// complement to the queue's outbound task record, adapted from the
// teacher's per-task stdout/stderr log layout.
type AuditLog struct {
	basePath string
}

// NewAuditLog ensures basePath exists and returns an AuditLog rooted there.
func NewAuditLog(basePath string) (*AuditLog, error) {
	if err := os.MkdirAll(path.Join(basePath, "callbacks"), 0777); err != nil {
		return nil, errors.Wrap(err, "creating audit log base directory")
	}
	return &AuditLog{basePath: basePath}, nil
}

// Writer opens the log file for one (jobID, taskName, outcome) triple for
// appending, creating the file and the job's directory if needed. outcome is typically
// "succeeded", "failed" or "enqueue_additional".
func (a *AuditLog) Writer(jobID uint, taskName string, outcome string) (io.WriteCloser, error) {
	dir := path.Join(a.basePath, "callbacks", fmt.Sprintf("%d", jobID))
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.Wrap(err, "creating job callback directory")
	}

	f, err := os.OpenFile(a.buildPath(jobID, taskName, outcome), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "creating callback audit file")
	}
	return f, nil
}

// Reader opens a previously written audit entry for reading.
func (a *AuditLog) Reader(jobID uint, taskName string, outcome string) (io.ReadCloser, error) {
	f, err := os.Open(a.buildPath(jobID, taskName, outcome))
	if err != nil {
		return nil, errors.Wrap(err, "opening callback audit file")
	}
	return f, nil
}

func (a *AuditLog) buildPath(jobID uint, taskName string, outcome string) string {
	return path.Join(a.basePath, "callbacks", fmt.Sprintf("%d", jobID), fmt.Sprintf("%s-%s.log", taskName, outcome))
}
