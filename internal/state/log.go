package state

import (
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Non-finite drops are counted individually but logged at most a few
// times per interval so a poisoned feed cannot flood the log.
var dropLog = rate.Sometimes{First: 3, Interval: 5 * time.Second}

func dropWarn(subject, kind string, value float64) {
	dropLog.Do(func() {
		log.Printf("state: dropped non-finite %s value %v for %q", kind, value, subject)
	})
}
