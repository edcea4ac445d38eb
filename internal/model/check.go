package model

// CheckStatus is the outcome of one host preflight check.
type CheckStatus string

const (
	// CheckStatusOK means the host satisfies the check.
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusWarning means VMs can run but something on the host is off.
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError means VMs cannot run until the problem is fixed.
	CheckStatusError CheckStatus = "error"
)

// CheckResult is the outcome of probing one host requirement, such as KVM
// availability or nftables access.
type CheckResult struct {
	ID      string // Stable check identifier (e.g. "kvm_available").
	Message string // What was found on the host.
	Status  CheckStatus
}

// HasErrors reports whether any check failed.
func HasErrors(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == CheckStatusError {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any check carries a warning.
func HasWarnings(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == CheckStatusWarning {
			return true
		}
	}
	return false
}

// CountByStatus tallies check results per status.
func CountByStatus(results []CheckResult) (ok, warnings, errors int) {
	for _, r := range results {
		switch r.Status {
		case CheckStatusOK:
			ok++
		case CheckStatusWarning:
			warnings++
		case CheckStatusError:
			errors++
		}
	}
	return
}
