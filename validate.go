package leadtrack

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	panPattern    = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]{1}$`)
	mobilePattern = regexp.MustCompile(`^[0-9]{10}$`)
)

// NationalIDRule is the accepted national-id shape for one entry path.
type NationalIDRule struct {
	Digits int
}

var (
	StaffNationalID = NationalIDRule{Digits: 12}
	LinkNationalID  = NationalIDRule{Digits: 16}
)

func (r NationalIDRule) Validate(id string) error {
	if len(id) != r.Digits || !allDigits(id) {
		return Invalidf("national ID must be exactly %d digits", r.Digits)
	}
	return nil
}

// NormalizePAN trims and upper-cases a PAN.
func NormalizePAN(pan string) string {
	return strings.ToUpper(strings.TrimSpace(pan))
}

// ValidatePAN expects an already normalized PAN.
func ValidatePAN(pan string) error {
	if !panPattern.MatchString(pan) {
		return Invalidf("invalid PAN format: expected 5 letters, 4 digits and 1 letter")
	}
	return nil
}

func ValidateMobile(mobile string) error {
	if !mobilePattern.MatchString(mobile) {
		return Invalidf("mobile number must be exactly 10 digits")
	}
	return nil
}

// ValidateNewLead normalizes in and checks it in a fixed order, stopping at
// the first failure: required identifiers, PAN, national id, then the
// remaining customer fields.
func ValidateNewLead(in *NewLead, rule NationalIDRule) error {
	in.PANNumber = NormalizePAN(in.PANNumber)
	in.NationalID = strings.TrimSpace(in.NationalID)

	if in.PANNumber == "" || in.NationalID == "" {
		return Invalidf("PAN and national ID are required")
	}
	if err := ValidatePAN(in.PANNumber); err != nil {
		return err
	}
	if err := rule.Validate(in.NationalID); err != nil {
		return err
	}

	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if in.CustomerName == "" {
		return Invalidf("customer name is required")
	}
	in.MobileNumber = strings.TrimSpace(in.MobileNumber)
	if err := ValidateMobile(in.MobileNumber); err != nil {
		return err
	}
	if _, err := ParseEmploymentType(in.EmploymentType); err != nil {
		return err
	}
	if in.Status != "" {
		if _, err := ParseStatus(in.Status); err != nil {
			return err
		}
	}
	if _, err := ParseRejectionReason(in.RejectionReason); err != nil {
		return err
	}
	if in.MonthlyIncome.Valid && in.MonthlyIncome.Decimal.IsNegative() {
		return Invalidf("monthly income cannot be negative")
	}
	return nil
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", Invalidf("invalid status %q", s)
	}
	return st, nil
}

// ParseEmploymentType returns nil for an empty value.
func ParseEmploymentType(s string) (*EmploymentType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	e := EmploymentType(s)
	if !e.Valid() {
		return nil, Invalidf("invalid employment type %q", s)
	}
	return &e, nil
}

// ParseRejectionReason returns nil for an empty value.
func ParseRejectionReason(s string) (*RejectionReason, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	r := RejectionReason(s)
	if !r.Valid() {
		return nil, Invalidf("invalid rejection reason %q", s)
	}
	return &r, nil
}

// ApplyPatch validates p and applies it to l. National-id changes are checked
// against rule.
func ApplyPatch(l *Lead, p LeadPatch, rule NationalIDRule) error {
	if p.CustomerName != nil {
		name := strings.TrimSpace(*p.CustomerName)
		if name == "" {
			return Invalidf("customer name is required")
		}
		l.CustomerName = name
	}
	if p.MobileNumber != nil {
		m := strings.TrimSpace(*p.MobileNumber)
		if err := ValidateMobile(m); err != nil {
			return err
		}
		l.MobileNumber = m
	}
	if p.PANNumber != nil {
		pan := NormalizePAN(*p.PANNumber)
		if err := ValidatePAN(pan); err != nil {
			return err
		}
		l.PANNumber = pan
	}
	if p.NationalID != nil {
		id := strings.TrimSpace(*p.NationalID)
		if err := rule.Validate(id); err != nil {
			return err
		}
		l.NationalID = id
	}
	if p.PreferredBank != nil {
		l.PreferredBank = strings.TrimSpace(*p.PreferredBank)
	}
	if p.EmploymentType != nil {
		e, err := ParseEmploymentType(*p.EmploymentType)
		if err != nil {
			return err
		}
		l.EmploymentType = e
	}
	if p.MonthlyIncome != nil {
		if p.MonthlyIncome.Valid && p.MonthlyIncome.Decimal.IsNegative() {
			return Invalidf("monthly income cannot be negative")
		}
		l.MonthlyIncome = *p.MonthlyIncome
	}
	if p.Status != nil {
		st, err := ParseStatus(*p.Status)
		if err != nil {
			return err
		}
		l.Status = st
	}
	if p.RejectionReason != nil {
		r, err := ParseRejectionReason(*p.RejectionReason)
		if err != nil {
			return err
		}
		l.RejectionReason = r
	}
	if p.RejectionNotes != nil {
		l.RejectionNotes = *p.RejectionNotes
	}
	return nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// String implements fmt.Stringer for log fields.
func (r NationalIDRule) String() string {
	return fmt.Sprintf("%d digits", r.Digits)
}
