// Package gates implements approval gate handling: creating and resolving
// approval requests, timeout-based auto-approval, and rendering requests for
// human review.
package gates

import (
	"fmt"
	"strings"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

// CreateApprovalRequest builds an approval request for a gate reached by a
// run. Timeout gates get an expiry of now + timeout; other gates never
// expire.
func CreateApprovalRequest(runID, stepName string, gate schema.ApprovalGate) *schema.ApprovalRequest {
	now := schema.Now()

	var expiresAt *schema.Timestamp
	if gate.Type == schema.GateTypeTimeout && gate.TimeoutSeconds != nil {
		expiresAt = schema.TimestampPtr(now.Add(time.Duration(*gate.TimeoutSeconds) * time.Second))
	}

	return &schema.ApprovalRequest{
		RunID:       runID,
		StepName:    stepName,
		Gate:        gate,
		RequestedAt: now,
		ExpiresAt:   expiresAt,
	}
}

// CheckTimeoutGate reports whether a timeout gate has reached its expiry and
// should auto-approve. Always false for non-timeout gates and requests
// without an expiry.
func CheckTimeoutGate(request *schema.ApprovalRequest) bool {
	if request.Gate.Type != schema.GateTypeTimeout {
		return false
	}
	if request.ExpiresAt == nil {
		return false
	}
	return !time.Now().UTC().Before(request.ExpiresAt.Time)
}

// ApproveRequest marks a request approved. The caller persists.
func ApproveRequest(request *schema.ApprovalRequest, approvedBy string) {
	request.ApprovedBy = approvedBy
	request.ApprovedAt = schema.TimestampPtr(time.Now())
}

// RejectRequest marks a request rejected with an optional reason. The caller
// persists.
func RejectRequest(request *schema.ApprovalRequest, rejectedBy, reason string) {
	request.RejectedBy = rejectedBy
	request.RejectedAt = schema.TimestampPtr(time.Now())
	request.RejectionReason = reason
}

// FormatApprovalMessage renders an approval request as a human-readable
// message, including the auto-approve countdown for timeout gates and the
// approver list when restricted.
func FormatApprovalMessage(request *schema.ApprovalRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Approval Required: %s\n\n", request.StepName)
	fmt.Fprintf(&b, "**Run:** %s\n", request.RunID)
	fmt.Fprintf(&b, "**Message:** %s\n\n", request.Gate.Message)

	if request.Gate.Type == schema.GateTypeTimeout && request.ExpiresAt != nil {
		remaining := time.Until(request.ExpiresAt.Time)
		minutes := int(remaining.Minutes())
		if minutes < 0 {
			minutes = 0
		}
		fmt.Fprintf(&b, "*Auto-approves in %d minutes*\n\n", minutes)
	}

	if len(request.Gate.Approvers) > 0 {
		fmt.Fprintf(&b, "**Approvers:** %s\n\n", strings.Join(request.Gate.Approvers, ", "))
	}

	b.WriteString("### Actions\n\n")
	b.WriteString("- Reply with `/approve` to approve\n")
	b.WriteString("- Reply with `/reject [reason]` to reject")

	return b.String()
}
