package notifier

import (
	"fmt"
	"strings"
)

// Notification bodies are deliberately plain text and never include internal
// error detail; user-visible failure text stays generic.

// ApprovalRequest is the message sent to the approvers of a stage when the
// request reaches them.
func ApprovalRequest(userEmail, group, teamAlias string, stage int) (subject, body string) {
	subject = fmt.Sprintf("Approval needed: onboarding of %s to %s", userEmail, group)
	body = fmt.Sprintf(
		"An onboarding request for %s (team %s, group %s) is awaiting your approval at stage %d.\r\n\r\n"+
			"Reply to this email with \"approve\" or \"reject <reason>\" to record your decision.\r\n",
		userEmail, teamAlias, group, stage)
	return subject, body
}

// Reminder nudges the missing approvers of a stalled stage.
func Reminder(userEmail, group string, stage int, missing []string) (subject, body string) {
	subject = fmt.Sprintf("Reminder: onboarding of %s to %s still pending", userEmail, group)
	body = fmt.Sprintf(
		"The onboarding request for %s (group %s) is still waiting at stage %d for: %s.\r\n\r\n"+
			"Reply with \"approve\" or \"reject <reason>\" to move it along.\r\n",
		userEmail, group, stage, strings.Join(missing, ", "))
	return subject, body
}

// RejectionNotice tells the requester their request was turned down.
func RejectionNotice(userEmail, group, reason string) (subject, body string) {
	subject = fmt.Sprintf("Onboarding request for %s declined", group)
	if reason == "" {
		reason = "no reason given"
	}
	body = fmt.Sprintf(
		"Hello,\r\n\r\nYour onboarding request for %s to group %s was declined: %s.\r\n",
		userEmail, group, reason)
	return subject, body
}

// ValidationFailureNotice tells the requester their request failed validation.
func ValidationFailureNotice(userEmail, group, reason string) (subject, body string) {
	subject = fmt.Sprintf("Onboarding request for %s could not be accepted", group)
	body = fmt.Sprintf(
		"Hello,\r\n\r\nThe onboarding request for %s to group %s could not be accepted: %s.\r\n",
		userEmail, group, reason)
	return subject, body
}

// ProvisionedNotice tells the requester their access is live.
func ProvisionedNotice(userEmail, group string) (subject, body string) {
	subject = fmt.Sprintf("Onboarding to %s complete", group)
	body = fmt.Sprintf(
		"Hello,\r\n\r\nAll approvals are in place and access for %s to %s has been provisioned.\r\n",
		userEmail, group)
	return subject, body
}
