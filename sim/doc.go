// Package sim provides a software GRBL 1.1 controller exposed as a grbl.Link.
//
// The simulated Device answers command lines with "ok" or "error:<n>", handles the
// real-time bytes (status query, feed hold, cycle resume, soft reset and overrides),
// moves its axes over time through a bounded planner buffer, and keeps a settings
// table answering "$$" and "$<n>=<value>". Faults can be injected with InjectError,
// TriggerAlarm and Unplug.
//
// A Device can be handed to session.New like any other link:
//
//	dev, _ := sim.NewDevice(sim.WithTimeScale(10))
//	sess, _ := session.New(ctx, dev, session.WithPollInterval(session.DefaultSimPollInterval))
package sim
