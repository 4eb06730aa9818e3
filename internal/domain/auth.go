package domain

// Audience partitions the role set into the two API surfaces.
type Audience string

const (
	AudienceStaff    Audience = "STAFF"
	AudienceCustomer Audience = "CUSTOMER"
)

// AudienceOf is total over role codes: CUSTOMER belongs to the portal, every
// other role to the CRM.
func AudienceOf(roleCode string) Audience {
	if roleCode == RoleCustomer {
		return AudienceCustomer
	}
	return AudienceStaff
}

// Identity is the caller attached to a request by the access gate.
type Identity struct {
	UserID   string `json:"id"`
	Email    string `json:"email"`
	RoleCode string `json:"role"`
	RoleID   string `json:"roleId"`
}
