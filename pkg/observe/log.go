package observe

import (
	"github.com/sirupsen/logrus"
)

// LogObserver reports progress through structured logrus entries
type LogObserver struct {
	log *logrus.Entry
}

// NewLogObserver creates a LogObserver
func NewLogObserver(log *logrus.Entry) *LogObserver {
	return &LogObserver{log: log}
}

// Observe implements Observer
func (o *LogObserver) Observe(evt Event) {
	entry := o.log
	if evt.BatchID != "" {
		entry = entry.WithField("batch", shortID(evt.BatchID))
	}
	if evt.ErrorType != "" {
		entry = entry.WithField("error_type", evt.ErrorType)
	}

	switch evt.Stage {
	case StageFetchDone:
		fields := logrus.Fields{"url": evt.URL, "status": evt.Status, "bytes": evt.Bytes, "duration": evt.Dur}
		if evt.Err != nil {
			entry.WithFields(fields).Debugf("Fetch failed: %v", evt.Err)
		} else {
			entry.WithFields(fields).Trace("Fetched")
		}
	case StageFetchRetry:
		entry.WithFields(logrus.Fields{"url": evt.URL, "attempt": evt.Attempt, "cooldown": evt.Dur}).
			Debugf("Retrying after transient error: %v", evt.Err)
	case StageLeafFound:
		entry.WithFields(logrus.Fields{"url": evt.URL, "dir": evt.OutputDir}).
			Infof("Collected %d product links from '%s' (%d pages)", evt.Count, evt.Title, evt.Total)
	case StageBatchStart:
		entry.WithFields(logrus.Fields{"dir": evt.OutputDir, "attempt": evt.Attempt}).
			Infof("Dispatching %d of %d product URLs", evt.Count, evt.Total)
	case StageRecordDone:
		entry.WithField("url", evt.URL).Debugf("Record %d/%d: %s", evt.Count, evt.Total, evt.Title)
	case StageRecordSkipped:
		entry.WithField("url", evt.URL).Warnf("Skipped product: %v", evt.Err)
	case StageBatchAbort:
		entry.WithFields(logrus.Fields{"attempt": evt.Attempt, "unresolved": evt.Count, "cooldown": evt.Dur}).
			Warnf("Batch aborted: %v", evt.Err)
	case StageBatchDone:
		entry.WithFields(logrus.Fields{"attempts": evt.Attempt, "duration": evt.Dur}).
			Infof("Batch complete: %d records, %d skipped", evt.Count, evt.Total-evt.Count)
	case StageBatchExhaust:
		entry.WithFields(logrus.Fields{"attempts": evt.Attempt, "unresolved": evt.Count, "dir": evt.OutputDir}).
			Errorf("Batch gave up: %v", evt.Err)
	case StagePersisted:
		fields := logrus.Fields{"dir": evt.OutputDir}
		if evt.Count < evt.Total {
			entry.WithFields(fields).Warnf("Wrote %d of %d records", evt.Count, evt.Total)
		} else {
			entry.WithFields(fields).Infof("Wrote %d records", evt.Count)
		}
	default:
		entry.WithField("stage", evt.Stage).Debug("Progress event")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
