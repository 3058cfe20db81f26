package stage

import (
	"fmt"

	"contentflow/internal/queue"
)

// Health reports whether the vendor behind one stage can take jobs.
type Health struct {
	Stage queue.Stage
	// Vendor names the backend: "fake", the vendor host, or empty when no
	// client is configured for the stage.
	Vendor string
	Ready  bool
	Detail string
}

// Available reports a stage whose vendor can take jobs.
func Available(st queue.Stage, vendor string) Health {
	return Health{Stage: st, Vendor: vendor, Ready: true}
}

// Unavailable reports a stage that cannot start jobs, with the reason.
func Unavailable(st queue.Stage, vendor, detail string) Health {
	return Health{Stage: st, Vendor: vendor, Detail: detail}
}

func (h Health) String() string {
	label := string(h.Stage)
	if h.Vendor != "" {
		label = fmt.Sprintf("%s (%s)", h.Stage, h.Vendor)
	}
	if h.Ready {
		return label + ": ready"
	}
	return label + ": " + h.Detail
}

// Blocked returns the stages in health that cannot start jobs.
func Blocked(health []Health) []Health {
	var out []Health
	for _, h := range health {
		if !h.Ready {
			out = append(out, h)
		}
	}
	return out
}
