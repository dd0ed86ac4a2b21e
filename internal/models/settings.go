package models

// AllowLevel controls who may open a conversation with a user.
type AllowLevel string

const (
	AllowEveryone        AllowLevel = "everyone"
	AllowFriends         AllowLevel = "friends"
	AllowFriendsOfFriend AllowLevel = "friends_of_friends"
	AllowNobody          AllowLevel = "nobody"
)

// ProfileVisibility gates presence and last-active lookups.
type ProfileVisibility string

const (
	VisibilityPublic  ProfileVisibility = "public"
	VisibilityFriends ProfileVisibility = "friends"
	VisibilityPrivate ProfileVisibility = "private"
)

// Retention periods, ordered from strictest (shortest) to most permissive.
const (
	RetentionAfterRead   = "after_read"
	RetentionOneDay      = "one_day"
	RetentionOneWeek     = "one_week"
	RetentionOneMonth    = "one_month"
	RetentionThreeMonths = "three_months"
	RetentionSixMonths   = "six_months"
	RetentionOneYear     = "one_year"
	RetentionForever     = "forever"
)

// PrivacySettings is the fully-populated view of a user's messaging privacy
// preferences. Defaults are resolved once when the row is read; callers never
// see missing fields.
type PrivacySettings struct {
	UserID            int               `db:"user_id" json:"user_id"`
	AllowMessagesFrom AllowLevel        `db:"allow_messages_from" json:"allow_messages_from"`
	RetentionPeriod   string            `db:"retention_period" json:"retention_period"`
	AllowReadReceipts bool              `db:"allow_read_receipts" json:"allow_read_receipts"`
	AllowForwarding   bool              `db:"allow_forwarding" json:"allow_forwarding"`
	ShowOnlineStatus  bool              `db:"show_online_status" json:"show_online_status"`
	ShowLastActive    bool              `db:"show_last_active" json:"show_last_active"`
	ProfileVisibility ProfileVisibility `db:"profile_visibility" json:"profile_visibility"`
}

// DefaultPrivacySettings returns the settings applied to users without a
// stored row.
func DefaultPrivacySettings(userID int) PrivacySettings {
	return PrivacySettings{
		UserID:            userID,
		AllowMessagesFrom: AllowEveryone,
		RetentionPeriod:   RetentionForever,
		AllowReadReceipts: true,
		AllowForwarding:   true,
		ShowOnlineStatus:  true,
		ShowLastActive:    true,
		ProfileVisibility: VisibilityPublic,
	}
}
