package entity

import (
	"unicode/utf16"
	"unicode/utf8"

	"github.com/leftmike/egdb/errors"
)

const (
	MaxStringLength      = 1500
	MaxRawPropertyBytes  = 1 << 20
	MaxLinkPropertyBytes = 2083
)

// CheckApp fails unless the caller is trusted or owns app.
func CheckApp(trusted bool, callerApp, app string) error {
	if app == "" {
		return errors.New(errors.ErrBadRequest, "missing application id")
	}
	if !trusted && app != callerApp {
		return errors.Newf(errors.ErrPermissionDenied, "app %q cannot access app %q's data",
			callerApp, app)
	}
	return nil
}

// CheckKey validates key for use by callerApp; requireComplete controls
// whether the last path element must have an id or a name.
func CheckKey(trusted bool, callerApp string, key Key, requireComplete bool) error {
	err := CheckApp(trusted, callerApp, key.App)
	if err != nil {
		return err
	}
	if len(key.Path) == 0 {
		return errors.New(errors.ErrBadRequest, "key's path cannot be empty")
	}
	if requireComplete && !key.Last().Complete() {
		return errors.New(errors.ErrBadRequest, "missing key id/name")
	}
	for idx, pe := range key.Path {
		if pe.Kind == "" {
			return errors.Newf(errors.ErrBadRequest, "key path element %d is missing a kind", idx)
		}
		if pe.HasID() && pe.HasName() {
			return errors.Newf(errors.ErrBadRequest,
				"each key path element should have id or name but not both: %s", key)
		}
		if idx < len(key.Path)-1 && !pe.Complete() {
			return errors.Newf(errors.ErrBadRequest, "incomplete ancestor in key: %s", key)
		}
	}
	return nil
}

// CheckEntity validates e before it is stored; its key may be incomplete.
func CheckEntity(trusted bool, callerApp string, e *Entity) error {
	err := CheckKey(trusted, callerApp, e.Key, false)
	if err != nil {
		return err
	}
	for _, p := range e.Properties {
		err = CheckProperty(trusted, p, true)
		if err != nil {
			return err
		}
	}
	for _, p := range e.RawProperties {
		err = CheckProperty(trusted, p, false)
		if err != nil {
			return err
		}
	}
	return nil
}

func CheckProperty(trusted bool, p Property, indexed bool) error {
	if !trusted && IsReservedName(p.Name) {
		return errors.Newf(errors.ErrBadRequest,
			"cannot store entity with reserved property name '%s'", p.Name)
	}
	if p.Meaning == IndexValue {
		return errors.New(errors.ErrBadRequest,
			"entities with incomplete properties cannot be written")
	}

	var maxLength int
	if indexed {
		if p.Meaning.IsBlob() {
			return errors.Newf(errors.ErrBadRequest,
				"blob, entity_proto, or text property %s must be unindexed", p.Name)
		}
		maxLength = MaxStringLength
	} else {
		if p.Meaning.IsBlob() {
			if _, ok := p.Value.(StringValue); !ok {
				return errors.Newf(errors.ErrBadRequest,
					"blob, entity_proto, or text property %s must have a string value", p.Name)
			}
		}
		maxLength = MaxRawPropertyBytes
	}
	if p.Meaning == Link {
		maxLength = MaxLinkPropertyBytes
	}

	return checkValue(p.Name, p.Value, maxLength)
}

func utf16Length(s string) int {
	var n int
	for len(s) > 0 {
		r, sz := utf8.DecodeRuneInString(s)
		s = s[sz:]
		if r1, _ := utf16.EncodeRune(r); r1 != utf8.RuneError {
			n += 2
		} else {
			n += 1
		}
	}
	return n
}

func checkValue(name string, v Value, maxLength int) error {
	switch v := v.(type) {
	case StringValue:
		if utf16Length(string(v)) > maxLength {
			return errors.Newf(errors.ErrBadRequest,
				"property %s is too long; maximum length is %d", name, maxLength)
		}
	case ReferenceValue:
		if len(v.Path) == 0 {
			return errors.Newf(errors.ErrBadRequest, "property %s has an empty reference", name)
		}
	}
	return nil
}
