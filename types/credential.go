package types

import "encoding/json"

// Credential is an opaque provider key. It never prints in full.
type Credential string

// Prefix returns at most the first four characters of the key.
func (c Credential) Prefix() string {
	s := string(c)
	if len(s) > 4 {
		return s[:4]
	}
	return s
}

// Masked returns the key prefix followed by a mask, suitable for diagnostics.
func (c Credential) Masked() string {
	if c == "" {
		return ""
	}
	return c.Prefix() + "****"
}

// Reveal returns the raw key for use in request headers only.
func (c Credential) Reveal() string { return string(c) }

// Empty reports whether no key was configured.
func (c Credential) Empty() bool { return c == "" }

func (c Credential) String() string { return c.Masked() }

// GoString keeps %#v from leaking the key.
func (c Credential) GoString() string { return "Credential(" + c.Masked() + ")" }

func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Masked())
}
