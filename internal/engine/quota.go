package engine

import (
	"fmt"
	"log"
)

// Quota is a monotonic counter with a soft threshold that warns once and a
// hard threshold that fails.
type Quota struct {
	Name string
	Soft int64
	Hard int64

	total  int64
	warned bool
	logger *log.Logger
}

func NewQuota(name string, soft, hard int64, logger *log.Logger) *Quota {
	return &Quota{Name: name, Soft: soft, Hard: hard, logger: logger}
}

// Add charges n units. Negative amounts are ignored.
func (q *Quota) Add(n int64) error {
	if n > 0 {
		q.total += n
	}
	if q.total > q.Hard {
		return fmt.Errorf("%w: %s at %d, limit %d", ErrQuotaExceeded, q.Name, q.total, q.Hard)
	}
	if q.total > q.Soft && !q.warned {
		q.warned = true
		if q.logger != nil {
			q.logger.Printf("warning: %s at %d exceeds soft limit %d", q.Name, q.total, q.Soft)
		}
	}
	return nil
}

func (q *Quota) Total() int64 { return q.total }

// Warned reports whether the soft threshold has been crossed.
func (q *Quota) Warned() bool { return q.warned }
