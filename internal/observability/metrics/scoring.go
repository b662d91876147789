package metrics

import "time"

// Evaluation records a token evaluation run.
func Evaluation(vendor, status string) {
	if !enabled {
		return
	}
	evaluationTotal.WithLabelValues(vendor, status).Inc()
}

// ProveDuration records proof generation latency.
func ProveDuration(d time.Duration) {
	if !enabled {
		return
	}
	proveDuration.Observe(d.Seconds())
}

// Attestation records a received vendor attestation.
func Attestation(vendor, status string) {
	if !enabled {
		return
	}
	attestationTotal.WithLabelValues(vendor, status).Inc()
}

// Certification records an aggregation outcome.
func Certification(status string) {
	if !enabled {
		return
	}
	certificationTotal.WithLabelValues(status).Inc()
}

// Submission records a whitelist submission.
func Submission(status string) {
	if !enabled {
		return
	}
	submissionTotal.WithLabelValues(status).Inc()
}

// ProofVerify records a proof verification result.
func ProofVerify(result string) {
	if !enabled {
		return
	}
	proofVerifyTotal.WithLabelValues(result).Inc()
}

// WhitelistTransition records a whitelist state change.
func WhitelistTransition(from, to string) {
	if !enabled {
		return
	}
	whitelistTransition.WithLabelValues(from, to).Inc()
}
