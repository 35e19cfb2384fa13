package leadtrack

// Capability is an action a caller asks to perform on leads.
type Capability int

const (
	// CapCreate creates leads owned by the caller.
	CapCreate Capability = iota
	// CapReadAll reads every lead regardless of owner.
	CapReadAll
	// CapModify updates or deletes one lead.
	CapModify
	// CapExportAny exports leads of any creator.
	CapExportAny
)

// Authorize decides whether caller may use capability on a lead owned by
// ownerID. It returns ErrForbidden when the answer is no.
func Authorize(caller Identity, ownerID string, capability Capability) error {
	if !caller.Role.Valid() || caller.UserID == "" {
		return ErrForbidden
	}
	if caller.Role == RoleSuperAdmin {
		return nil
	}

	switch capability {
	case CapCreate:
		return nil
	case CapModify:
		if ownerID != "" && ownerID == caller.UserID {
			return nil
		}
	}
	return ErrForbidden
}

// OwnerScope returns the creator id every lead query of caller is limited
// to, or "" when caller may see every lead.
func OwnerScope(caller Identity) string {
	if Authorize(caller, "", CapReadAll) == nil {
		return ""
	}
	return caller.UserID
}
