package verify

import "github.com/erazemk/najdeno/internal/model"

var masked = map[string]bool{
	model.FieldIDNumber:    true,
	model.FieldCardNumber:  true,
	model.FieldPhoneNumber: true,
}

// redacted replaces values too short to show a suffix of.
const redacted = "****"

// Mask hides all but the last four characters of identifying numbers.
// Numbers of four characters or fewer are hidden completely. Other keys are
// returned unchanged.
func Mask(key, value string) string {
	if !masked[key] || value == "" {
		return value
	}
	r := []rune(value)
	if len(r) <= 4 {
		return redacted
	}
	return "..." + string(r[len(r)-4:])
}

// MaskInfo returns the part of info that is safe for public item views:
// identifying numbers, masked. Every other value is a verification answer
// and is left out.
func MaskInfo(info model.ExtractedInfo) model.ExtractedInfo {
	var out model.ExtractedInfo
	for k, v := range info {
		if !masked[k] || v == "" {
			continue
		}
		if out == nil {
			out = make(model.ExtractedInfo)
		}
		out[k] = Mask(k, v)
	}
	return out
}

// Sensitive reports whether images of this item type are blurred in public
// listings.
func Sensitive(t model.ItemType) bool {
	switch t {
	case model.ItemTypeIDCard, model.ItemTypeCreditCard, model.ItemTypeBirthCertificate:
		return true
	}
	return false
}
