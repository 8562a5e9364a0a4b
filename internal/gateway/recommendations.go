package gateway

import (
	"fmt"
	"time"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

const (
	recommendRejectRate    = 0.1
	recommendQueueWait     = 10 * time.Second
	recommendNearCeiling   = 0.9
	recommendUnhealthyRate = 0.3
)

// Recommend derives operator hints from a snapshot. It never returns an
// empty list.
func Recommend(s models.PoolSnapshot, minMembers, targetMembers int) []string {
	var out []string
	adm := s.Admission

	if s.Ceiling == 0 {
		out = append(out, "No eligible members: requests cannot be admitted until a member passes a probe")
	}
	if eligible := s.Counts.Eligible(); eligible < minMembers {
		out = append(out, fmt.Sprintf("Only %d eligible members, below the minimum of %d: check issuance service reachability", eligible, minMembers))
	} else if eligible+s.Counts.Provisioning < targetMembers {
		out = append(out, fmt.Sprintf("%d of %d target members available: replacements are being provisioned", eligible, targetMembers))
	}

	settled := s.Counts.Healthy + s.Counts.Degraded + s.Counts.Unhealthy
	if settled > 0 && float64(s.Counts.Unhealthy)/float64(settled) > recommendUnhealthyRate {
		out = append(out, "High share of unhealthy members: check the egress network or the identity source")
	}

	if attempts := adm.Attempts(); attempts > 0 {
		rate := float64(adm.Rejected+adm.TimedOut) / float64(attempts)
		if rate > recommendRejectRate {
			out = append(out, fmt.Sprintf("%.1f%% of requests rejected or timed out: consider a higher tier", rate*100))
		}
	}
	if adm.AvgQueueWait > recommendQueueWait {
		out = append(out, fmt.Sprintf("Average queue wait %s: demand exceeds the rate limit", adm.AvgQueueWait.Round(time.Millisecond)))
	}
	if s.Ceiling > 0 && float64(adm.PeakActive) >= recommendNearCeiling*float64(s.Ceiling) {
		out = append(out, fmt.Sprintf("Peak concurrency %d is close to the ceiling of %d", adm.PeakActive, s.Ceiling))
	}

	if len(out) == 0 {
		out = append(out, "Gateway operating normally")
	}
	return out
}
