// internal/muc/form.go
package muc

// Room configuration form fields.
const (
	FieldMembersOnly   = "muc#roomconfig_membersonly"
	FieldLobbyPassword = "muc#roomconfig_lobbypassword"
	FieldRoomName      = "muc#roomconfig_roomname"
)

// Form field values for boolean fields.
const (
	FormTrue  = "1"
	FormFalse = "0"
)

// ConfigForm is a flat room configuration form. A get round trip
// returns the room's current form; a set round trip submits only the
// fields being changed.
type ConfigForm struct {
	Fields map[string]string `json:"fields"`
}

// NewConfigForm returns an empty form.
func NewConfigForm() *ConfigForm {
	return &ConfigForm{Fields: make(map[string]string)}
}

// Has reports whether the form carries the named field at all. Absence
// means the room does not support the corresponding option.
func (f *ConfigForm) Has(name string) bool {
	if f == nil {
		return false
	}
	_, ok := f.Fields[name]
	return ok
}

// Get returns the field's value, or "" when absent.
func (f *ConfigForm) Get(name string) string {
	if f == nil {
		return ""
	}
	return f.Fields[name]
}

// GetBool interprets the field as a form boolean.
func (f *ConfigForm) GetBool(name string) bool {
	return f.Get(name) == FormTrue
}

// Set stores a field value.
func (f *ConfigForm) Set(name, value string) {
	if f.Fields == nil {
		f.Fields = make(map[string]string)
	}
	f.Fields[name] = value
}

// SetBool stores a boolean field.
func (f *ConfigForm) SetBool(name string, v bool) {
	if v {
		f.Set(name, FormTrue)
	} else {
		f.Set(name, FormFalse)
	}
}

// IQType discriminates request/response exchanges.
type IQType string

const (
	IQGet    IQType = "get"
	IQSet    IQType = "set"
	IQResult IQType = "result"
)

// IQ is a request or response addressed to a room. Form carries the
// configuration payload for owner get/set exchanges.
type IQ struct {
	Type IQType      `json:"type"`
	To   JID         `json:"to"`
	Form *ConfigForm `json:"form,omitempty"`
}
