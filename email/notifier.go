package email

import (
	"context"
	"log"

	"github.com/legit-games/secrets-service/models"
)

// Notifier sends access-request traffic through a Sender. Delivery is
// best-effort: a mail failure is logged and never surfaces to the workflow
// that triggered it.
type Notifier struct {
	sender  Sender
	appName string
}

func NewNotifier(sender Sender, appName string) *Notifier {
	if sender == nil {
		sender = NewNoOpSender()
	}
	return &Notifier{sender: sender, appName: appName}
}

// RequestCreated notifies each reviewer address of a new pending request.
func (n *Notifier) RequestCreated(ctx context.Context, req *models.AccessRequest, secretKey string, reviewers []string) {
	for _, to := range reviewers {
		n.send(ctx, AccessRequestEmailData{
			To:              to,
			RequesterID:     req.UserID,
			ProjectID:       req.ProjectID,
			SecretKey:       secretKey,
			Reason:          req.Reason,
			DurationMinutes: req.DurationMinutes,
			Status:          string(models.AccessRequestPending),
			AppName:         n.appName,
		})
	}
}

// RequestReviewed notifies the requester of an approve or reject outcome.
func (n *Notifier) RequestReviewed(ctx context.Context, req *models.AccessRequest, secretKey, requesterAddr string) {
	reviewer := ""
	if req.ApprovedBy != nil {
		reviewer = *req.ApprovedBy
	}
	n.send(ctx, AccessRequestEmailData{
		To:              requesterAddr,
		RequesterID:     req.UserID,
		ReviewerID:      reviewer,
		ProjectID:       req.ProjectID,
		SecretKey:       secretKey,
		DurationMinutes: req.DurationMinutes,
		Status:          string(req.Status),
		AppName:         n.appName,
	})
}

func (n *Notifier) send(ctx context.Context, data AccessRequestEmailData) {
	if data.To == "" {
		return
	}
	if err := n.sender.SendAccessRequestNotice(ctx, data); err != nil {
		log.Printf("email: access request notice to %s: %v", data.To, err)
	}
}
