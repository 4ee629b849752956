// Package session implements the machine-control session for GRBL-style controllers.
//
// A Session owns one grbl.Link and composes:
//   - the command channel, which allows at most one command line awaiting its acknowledgment,
//   - the real-time channel for the status query, feed hold, cycle resume and soft reset bytes,
//   - the status poller, which requests a status report on a fixed interval,
//   - the job runner, which streams a job line by line with pause, resume, stop and dry-run,
//   - an ordered event dispatcher delivering grbl.Event values to registered handlers.
//
// The same Session drives a physical controller (see NewSerial and NewTCP) and the
// simulated controller of the sim package (see NewSimulated).
//
// Example:
//
//	sess, err := session.NewSimulated(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	sess.AddEventHandler(func(evt grbl.Event) {
//	    if p, ok := evt.(grbl.ProgressEvent); ok {
//	        fmt.Printf("%.0f%%\n", p.Percentage)
//	    }
//	})
//
//	if err := sess.Connect(ctx); err != nil {
//	    return err
//	}
//	err = sess.StartJob([]string{"G21", "G0 X10", "G1 Y10 F500"}, grbl.JobOptions{})
package session
