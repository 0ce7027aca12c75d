package notifications

import (
	"strings"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
)

const (
	// AudienceAll targets every account.
	AudienceAll = "all"
	// audienceUserPrefix targets one account: "user:<id>".
	audienceUserPrefix = "user:"
)

// Notification is one persisted message for one recipient.
type Notification struct {
	NotificationID   string `json:"notificationId"`
	BatchID          string `json:"batchId"`
	UserID           string `json:"userId"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	TargetAudience   string `json:"targetAudience"`
	IsRead           bool   `json:"isRead"`
	CreatedAtSeconds int64  `json:"createdAt"`
	UpdatedAtSeconds int64  `json:"updatedAt"`
}

// SendRequest describes a fan-out.
type SendRequest struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	TargetAudience string `json:"targetAudience"`
}

// SendResult reports how a fan-out went. Persisted plus Failed equals TargetCount.
type SendResult struct {
	BatchID     string `json:"notificationBatchId"`
	TargetCount int    `json:"targetCount"`
	Persisted   int    `json:"persisted"`
	Failed      int    `json:"failed"`
}

// AudienceForUser builds the audience addressing a single account.
func AudienceForUser(userID string) string {
	return audienceUserPrefix + userID
}

func notificationID(batchID, userID string) string {
	return batchID + "_" + userID
}

type audience struct {
	all    bool
	role   users.Role
	userID string
}

func parseAudience(raw string) (audience, bool) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, audienceUserPrefix) {
		userID := strings.TrimSpace(strings.TrimPrefix(trimmed, audienceUserPrefix))
		return audience{userID: userID}, userID != ""
	}
	if strings.EqualFold(trimmed, AudienceAll) {
		return audience{all: true}, true
	}
	role, ok := users.ParseRole(trimmed)
	if !ok {
		return audience{}, false
	}
	return audience{role: role}, true
}
