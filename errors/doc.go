// Package errors classifies drillstream failures.
//
// Three classes drive handling decisions:
//
//   - ErrorInvalid: malformed input such as an unknown topic or a payload with
//     no value. The message is logged and dropped.
//   - ErrorTransient: infrastructure failures such as a storage outage or a
//     slow live subscriber. The affected unit of work is dropped and health
//     is degraded; nothing is retried on the ingest path.
//   - ErrorFatal: configuration problems detected at start-up.
//
// Errors are wrapped with "component.method: action failed: cause":
//
//	if err := s.db.ExecContext(ctx, q, args...); err != nil {
//	    return errs.WrapTransient(err, "sqlstore", "InsertReading", "insert reading")
//	}
//
// Callers branch with IsInvalid, IsTransient, IsFatal or Classify.
package errors
