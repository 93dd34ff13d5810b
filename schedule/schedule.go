// Package schedule validates the cron expressions attached to a pipeline's
// Schedule rows (§3). The scheduler front-end that actually fires these
// schedules lives outside this module; this package only guarantees an
// expression a caller stores is one a standard five-field parser accepts.
package schedule

import (
	"github.com/robfig/cron/v3"

	"networkteam.com/lab/pipelinecore/core/errs"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate parses expr and reports whether it is a well-formed five-field
// cron expression.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return errs.WrapBadExpression(err, expr)
	}
	return nil
}
