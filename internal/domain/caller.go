package domain

type Role string

const (
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Caller is the identity resolved by the auth layer before any use case runs.
type Caller struct {
	UserID   int64 `json:"user_id"`
	AgencyID int64 `json:"agency_id"`
	Role     Role  `json:"role"`
}

// ActivityAccess is what the CRM knows about a caller's relation to an activity.
type ActivityAccess struct {
	ActivityID     int64
	TripID         int64
	TripAgencyID   int64
	TripStatus     string
	IsTripOwner    bool
	TripTravelerID *int64
}
