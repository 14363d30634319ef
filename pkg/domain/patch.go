package domain

import "time"

// Patch describes the changes one accepted event makes to a Record.
// Nil fields are left untouched. Applying the same Patch twice yields the same Record.
type Patch struct {
	// Expect is the step the patch was computed from. When set, the store gateway
	// refuses to apply the patch on top of a record that has moved on.
	Expect *Step `json:"expect,omitempty"`

	// Reset clears every collected field. The activation code and plan survive
	// when the conversation already redeemed one.
	Reset bool `json:"reset,omitempty"`

	Step   *Step   `json:"step,omitempty"`
	Status *Status `json:"status,omitempty"`
	Code   *string `json:"code,omitempty"`
	Plan   *string `json:"plan,omitempty"`

	Name           *string `json:"name,omitempty"`
	Handle         *string `json:"handle,omitempty"`
	CredentialHash *string `json:"credential_hash,omitempty"`

	Targeting        *Targeting `json:"targeting,omitempty"`
	UnfollowInactive *bool      `json:"unfollow_inactive,omitempty"`
	ActiveHours      *string    `json:"active_hours,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	// MessageID marks the transport message that produced the patch.
	MessageID *string `json:"message_id,omitempty"`
}

// Apply returns a copy of rec with the patch merged in. rec is not modified.
func (p Patch) Apply(rec *Record) *Record {
	out := rec.Clone()
	if p.Reset {
		if !out.Bound() {
			out.Plan = ""
		}
		out.Name = ""
		out.Handle = ""
		out.CredentialHash = ""
		out.Targeting = nil
		out.UnfollowInactive = nil
		out.ActiveHours = ""
		out.CompletedAt = nil
	}
	if p.Step != nil {
		out.Step = *p.Step
	}
	// Status only moves forward along its lifecycle.
	if p.Status != nil && out.Status.Precedes(*p.Status) {
		out.Status = *p.Status
	}
	if p.Code != nil {
		out.Code = *p.Code
	}
	if p.Plan != nil {
		out.Plan = *p.Plan
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Handle != nil {
		out.Handle = *p.Handle
	}
	if p.CredentialHash != nil {
		out.CredentialHash = *p.CredentialHash
	}
	if p.Targeting != nil {
		out.Targeting = p.Targeting.Clone()
	}
	if p.UnfollowInactive != nil {
		v := *p.UnfollowInactive
		out.UnfollowInactive = &v
	}
	if p.ActiveHours != nil {
		out.ActiveHours = *p.ActiveHours
	}
	if p.CompletedAt != nil {
		v := p.CompletedAt.UTC()
		out.CompletedAt = &v
	}
	if p.MessageID != nil {
		out.LastMessageID = *p.MessageID
	}
	return out
}

// Fields lists the record fields the patch touches. Values are omitted so the
// result is safe to log.
func (p Patch) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.Reset, "reset")
	add(p.Step != nil, "step")
	add(p.Status != nil, "status")
	add(p.Code != nil, "code")
	add(p.Plan != nil, "plan")
	add(p.Name != nil, "name")
	add(p.Handle != nil, "handle")
	add(p.CredentialHash != nil, "credential_hash")
	add(p.Targeting != nil, "targeting")
	add(p.UnfollowInactive != nil, "unfollow_inactive")
	add(p.ActiveHours != nil, "active_hours")
	add(p.CompletedAt != nil, "completed_at")
	add(p.MessageID != nil, "message_id")
	return fields
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
