package models

// Organization represents a tenant as listed by the control-plane.
// Organizations own users; a user is only provisioned inside an organization.
type Organization struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// User represents a member of an organization as listed by the control-plane.
type User struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// UserState is a user annotated with its provisioning mark.
type UserState struct {
	GUID         string `json:"guid"`
	Name         string `json:"name"`
	Synchronized bool   `json:"synchronized"`
}

// OrgState is an organization annotated with its provisioning mark and the
// marks of its users.
type OrgState struct {
	GUID         string      `json:"guid"`
	Name         string      `json:"name"`
	Synchronized bool        `json:"synchronized"`
	Users        []UserState `json:"users"`
}

// Snapshot is the full annotated control-plane universe.
type Snapshot struct {
	Organizations []OrgState `json:"organizations"`
}

// FindOrganization returns the organization with the given guid.
func FindOrganization(orgs []Organization, guid string) (Organization, bool) {
	for _, org := range orgs {
		if org.GUID == guid {
			return org, true
		}
	}
	return Organization{}, false
}

// FindUser returns the user with the given guid.
func FindUser(users []User, guid string) (User, bool) {
	for _, user := range users {
		if user.GUID == guid {
			return user, true
		}
	}
	return User{}, false
}
