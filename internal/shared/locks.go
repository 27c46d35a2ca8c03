package shared

import (
	"fmt"
	"time"
)

// ClosingLockKey builds the redis key guarding one closing step of a company fiscal year.
func ClosingLockKey(companyID int64, fiscalYearStart time.Time, step string) string {
	return fmt.Sprintf("closing:company:%d:fy:%s:%s:lock", companyID, fiscalYearStart.Format("2006-01-02"), step)
}
